package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// ruleSetNamespace seeds the deterministic ids given to file rule sets, so overrides
// keep pointing at the same rules across reloads.
var ruleSetNamespace = uuid.MustParse("6f1c8a2e-4b7d-5e93-a1c0-2d8f4e6b9a17")

// ruleSetFile is the YAML form of one rule set.
type ruleSetFile struct {
	ID        string     `yaml:"id"`
	Code      string     `yaml:"code"`
	Version   int        `yaml:"version"`
	Name      string     `yaml:"name"`
	Scope     string     `yaml:"scope"`
	TenantID  string     `yaml:"tenantId"`
	ProjectID string     `yaml:"projectId"`
	Active    *bool      `yaml:"active"`
	Rules     []ruleFile `yaml:"rules"`
}

type ruleFile struct {
	ID          string         `yaml:"id"`
	Code        string         `yaml:"code"`
	Title       string         `yaml:"title"`
	Description string         `yaml:"description"`
	Severity    string         `yaml:"severity"`
	Condition   map[string]any `yaml:"condition"`
	Outcome     map[string]any `yaml:"outcome"`
	Sources     []Source       `yaml:"sources"`
}

// FileRuleSetSource loads rule sets from YAML files on disk, one set per file.
// The path can be either a single file or a directory; directories are walked for
// .yaml and .yml files. It implements RuleSetRepository and reads the files on every
// call, so it is meant to sit behind a RuleSetStore cache.
type FileRuleSetSource struct {
	path     string
	strict   bool
	compiler *CELCompiler
	logger   *slog.Logger
}

// NewFileRuleSetSource creates a file-based rule-set source.
// In strict mode a file that fails validation fails the whole load; otherwise it is
// skipped with a warning.
func NewFileRuleSetSource(path string, strict bool, compiler *CELCompiler, logger *slog.Logger) *FileRuleSetSource {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileRuleSetSource{
		path:     path,
		strict:   strict,
		compiler: compiler,
		logger:   logger.With("component", "rules.file_source"),
	}
}

// Path returns the configured file or directory.
func (s *FileRuleSetSource) Path() string {
	return s.path
}

// ListRuleSets loads every rule set from disk and keeps those visible to filter.
func (s *FileRuleSetSource) ListRuleSets(ctx context.Context, filter ScopeFilter) ([]*RuleSet, error) {
	all, err := s.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	var out []*RuleSet
	for _, rs := range all {
		if filter.Matches(rs) {
			out = append(out, rs)
		}
	}
	return out, nil
}

// LoadAll loads all rule sets from the configured path.
func (s *FileRuleSetSource) LoadAll(ctx context.Context) ([]*RuleSet, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat path %q: %w", s.path, err)
	}

	var sets []*RuleSet
	if !info.IsDir() {
		rs, err := s.loadFile(s.path, info)
		if err != nil {
			return nil, err
		}
		return []*RuleSet{rs}, nil
	}

	err = filepath.WalkDir(s.path, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		rs, err := s.loadFile(path, fi)
		if err != nil {
			if s.strict {
				return err
			}
			s.logger.Warn("failed to load rule set file, skipping",
				"path", path,
				"error", err,
			)
			return nil
		}
		sets = append(sets, rs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory %q: %w", s.path, err)
	}

	s.logger.Debug("loaded rule sets from files",
		"path", s.path,
		"ruleset_count", len(sets),
	)
	return sets, nil
}

func (s *FileRuleSetSource) loadFile(path string, info os.FileInfo) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %q: %w", path, err)
	}
	rs, err := ParseRuleSetYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse rule set file %q: %w", path, err)
	}
	rs.CreatedAt = info.ModTime()
	for _, r := range rs.Rules {
		r.CreatedAt = rs.CreatedAt
	}

	if err := ValidateRuleSet(rs, s.compiler); err != nil {
		var verr *ValidationError
		if s.strict || !errors.As(err, &verr) {
			return nil, fmt.Errorf("file %q: %w", path, err)
		}
		s.logger.Warn("rule set has problems",
			"path", path,
			"ruleset", rs.Code,
			"problems", verr.Problems,
		)
	}
	return rs, nil
}

// ParseRuleSetYAML decodes one rule set. Missing ids are derived from the set code,
// version and rule code. Sets are active unless they say otherwise.
func ParseRuleSetYAML(data []byte) (*RuleSet, error) {
	var f ruleSetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if f.Version == 0 {
		f.Version = 1
	}
	if f.Scope == "" {
		f.Scope = string(ScopeGlobal)
	}

	rs := &RuleSet{
		ID:        f.ID,
		Code:      f.Code,
		Version:   f.Version,
		Name:      f.Name,
		Scope:     Scope(f.Scope),
		TenantID:  f.TenantID,
		ProjectID: f.ProjectID,
		Active:    f.Active == nil || *f.Active,
	}
	if rs.ID == "" {
		rs.ID = uuid.NewSHA1(ruleSetNamespace, []byte(fmt.Sprintf("%s@%d", rs.Code, rs.Version))).String()
	}

	for i, rf := range f.Rules {
		cond, err := ParseCondition(asConditionValue(rf.Condition))
		if err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i, rf.Code, err)
		}
		r := &Rule{
			ID:          rf.ID,
			RuleSetID:   rs.ID,
			Code:        rf.Code,
			Title:       rf.Title,
			Description: rf.Description,
			Severity:    rf.Severity,
			Condition:   cond,
			Outcome:     Outcome(rf.Outcome),
			Sources:     rf.Sources,
		}
		if r.ID == "" {
			r.ID = uuid.NewSHA1(ruleSetNamespace, []byte(rs.ID+"/"+rf.Code)).String()
		}
		rs.Rules = append(rs.Rules, r)
	}
	return rs, nil
}

// asConditionValue keeps a nil map nil so an absent condition stays vacuous.
func asConditionValue(m map[string]any) any {
	if m == nil {
		return nil
	}
	return m
}

// MultiRepository merges several rule-set repositories. When two repositories return a
// set with the same id, the earlier repository wins.
type MultiRepository []RuleSetRepository

// ListRuleSets concatenates the results of every repository.
func (m MultiRepository) ListRuleSets(ctx context.Context, filter ScopeFilter) ([]*RuleSet, error) {
	var out []*RuleSet
	seen := make(map[string]bool)
	for _, repo := range m {
		sets, err := repo.ListRuleSets(ctx, filter)
		if err != nil {
			return nil, err
		}
		for _, rs := range sets {
			if seen[rs.ID] {
				continue
			}
			seen[rs.ID] = true
			out = append(out, rs)
		}
	}
	return out, nil
}
