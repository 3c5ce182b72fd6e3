package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const pedBaseline = `
code: PED_BASELINE
version: 2
name: Pressure equipment baseline
scope: GLOBAL
rules:
  - code: PED_CAT_IV
    title: Category IV declaration
    severity: HIGH
    condition:
      all:
        - fact: psValue
          operator: gte
          value: 300
        - not:
            fact: medium
            operator: in
            value: [water, air]
    outcome:
      type: REQUIRED_DOCUMENT
      code: DOC_IV
    sources:
      - title: PED 2014/68/EU
        reference: Annex II
  - code: ALWAYS
    outcome:
      type: NOTE
      message: Baseline applied
`

const tenantSet = `
code: TENANT_EXTRA
scope: TENANT
tenantId: t-1
active: true
rules:
  - code: CO2_CHECK
    condition:
      expr: facts.medium == "CO2"
    outcome:
      type: TASK
      title: Check CO2 handling
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	return path
}

// TestParseRuleSetYAML verifies the YAML form maps onto the typed rule set
func TestParseRuleSetYAML(t *testing.T) {
	rs, err := ParseRuleSetYAML([]byte(pedBaseline))
	if err != nil {
		t.Fatalf("ParseRuleSetYAML() failed: %v", err)
	}
	if rs.Code != "PED_BASELINE" || rs.Version != 2 || rs.Scope != ScopeGlobal || !rs.Active {
		t.Errorf("rule set = %+v", rs)
	}
	if len(rs.Rules) != 2 {
		t.Fatalf("rules = %d, want 2", len(rs.Rules))
	}
	if rs.ID == "" || rs.Rules[0].ID == "" || rs.Rules[0].RuleSetID != rs.ID {
		t.Error("ids should be derived")
	}

	again, _ := ParseRuleSetYAML([]byte(pedBaseline))
	if again.ID != rs.ID || again.Rules[0].ID != rs.Rules[0].ID {
		t.Error("derived ids should be stable across parses")
	}

	if _, ok := rs.Rules[0].Condition.(All); !ok {
		t.Errorf("condition = %#v, want All", rs.Rules[0].Condition)
	}
	if rs.Rules[1].Condition != nil {
		t.Errorf("absent condition should be nil, got %#v", rs.Rules[1].Condition)
	}
	if len(rs.Rules[0].Sources) != 1 || rs.Rules[0].Sources[0].Reference != "Annex II" {
		t.Errorf("sources = %+v", rs.Rules[0].Sources)
	}

	e := NewConditionEvaluator()
	if !e.Evaluate(rs.Rules[0].Condition, Facts{"psValue": 350, "medium": "CO2"}) {
		t.Error("YAML condition should match a CO2 vessel at 350 bar")
	}
	if e.Evaluate(rs.Rules[0].Condition, Facts{"psValue": 350, "medium": "Water"}) {
		t.Error("YAML condition should exclude water")
	}
}

// TestFileSourceDirectory verifies directory loading, filtering and skipping bad files
func TestFileSourceDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "baseline.yaml", pedBaseline)
	writeFile(t, dir, "tenants/t1.yml", tenantSet)
	writeFile(t, dir, "README.md", "not a rule set")
	writeFile(t, dir, "broken.yaml", "code: BROKEN\nrules:\n  - code: X\n    condition:\n      fact: a\n      operator: nope\n    outcome: {type: NOTE}\n")

	src := NewFileRuleSetSource(dir, false, nil, nil)
	all, err := src.LoadAll(context.Background())
	if err != nil {
		t.Fatalf("LoadAll() failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("lenient load = %d sets, want 3 (invalid sets are kept with a warning)", len(all))
	}

	visible, err := src.ListRuleSets(context.Background(), ScopeFilter{ProjectID: "p-1"})
	if err != nil {
		t.Fatalf("ListRuleSets() failed: %v", err)
	}
	if len(visible) != 2 {
		t.Errorf("visible without tenant = %d sets, want the 2 global sets", len(visible))
	}

	strict := NewFileRuleSetSource(dir, true, nil, nil)
	if _, err := strict.LoadAll(context.Background()); err == nil {
		t.Error("strict load should fail on the invalid file")
	}
}

// TestFileSourceSingleFile verifies a file path loads one set
func TestFileSourceSingleFile(t *testing.T) {
	path := writeFile(t, t.TempDir(), "tenant.yaml", tenantSet)
	src := NewFileRuleSetSource(path, true, nil, nil)

	sets, err := src.ListRuleSets(context.Background(), ScopeFilter{TenantID: "t-1"})
	if err != nil {
		t.Fatalf("ListRuleSets() failed: %v", err)
	}
	if len(sets) != 1 || sets[0].Code != "TENANT_EXTRA" || sets[0].Version != 1 {
		t.Errorf("sets = %+v", sets)
	}
	if sets[0].CreatedAt.IsZero() {
		t.Error("CreatedAt should come from the file modification time")
	}
}

// TestMultiRepository verifies results are merged and deduplicated by id
func TestMultiRepository(t *testing.T) {
	first := &countingRepo{sets: []*RuleSet{{ID: "a", Code: "FIRST"}, {ID: "b"}}}
	second := &countingRepo{sets: []*RuleSet{{ID: "a", Code: "SECOND"}, {ID: "c"}}}

	got, err := MultiRepository{first, second}.ListRuleSets(context.Background(), ScopeFilter{})
	if err != nil {
		t.Fatalf("ListRuleSets() failed: %v", err)
	}
	if !equalIDs(ids(got), []string{"a", "b", "c"}) {
		t.Errorf("merged = %v, want [a b c]", ids(got))
	}
	if got[0].Code != "FIRST" {
		t.Error("earlier repository should win on duplicate ids")
	}
}
