package rules

import (
	"reflect"
	"testing"
)

// TestAssembleMergeOrder verifies later sources win in the documented order
func TestAssembleMergeOrder(t *testing.T) {
	ps := 350.0
	p := &Project{
		ID:            "p-1",
		TenantID:      "t-1",
		Medium:        "CO2",
		PressureValue: &ps,
		ClientName:    "Acme",
		Metadata:      map[string]any{"medium": "N2", "region": "EU", "site": "meta"},
		Facts:         map[string]any{"site": "facts", "volume": 5.0},
		FactEntries: []FactEntry{
			{Key: "volume", Value: 12.5},
			{Key: "", Value: "ignored"},
		},
	}

	got := FactsAssembler{}.Assemble(p, Facts{"clientName": "Override GmbH"})
	want := Facts{
		"projectId":  "p-1",
		"tenantId":   "t-1",
		"medium":     "N2",
		"psValue":    350.0,
		"volume":     12.5,
		"clientName": "Override GmbH",
		"region":     "EU",
		"site":       "facts",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Assemble() = %v, want %v", got, want)
	}
}

// TestAssembleOmitsEmptyBuiltins verifies absent built-in fields are not set
func TestAssembleOmitsEmptyBuiltins(t *testing.T) {
	got := FactsAssembler{}.Assemble(&Project{ID: "p-1"}, nil)
	if len(got) != 1 || got["projectId"] != "p-1" {
		t.Errorf("Assemble() = %v, want only projectId", got)
	}
	if _, ok := got["volume"]; ok {
		t.Error("nil volume should not become a fact")
	}

	got = FactsAssembler{}.Assemble(nil, Facts{"medium": "air"})
	if !reflect.DeepEqual(got, Facts{"medium": "air"}) {
		t.Errorf("nil project: got %v", got)
	}
}
