//go:build integration
// +build integration

package rules_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/requirements/evaluation"
	"github.com/liamcoop/requirements/rules"

	_ "github.com/lib/pq"
)

// setupTestDB creates a PostgreSQL container and returns a connection
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "requirements_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgresContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	host, err := postgresContainer.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgresContainer.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	connStr := fmt.Sprintf("host=%s port=%s user=test password=test dbname=requirements_test sslmode=disable", host, port.Port())

	// Wait for connection to be available
	var db *sql.DB
	for i := 0; i < 30; i++ {
		db, err = sql.Open("postgres", connStr)
		if err == nil {
			err = db.Ping()
			if err == nil {
				break
			}
		}
		time.Sleep(time.Second)
	}
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	migrationSQL, err := os.ReadFile(filepath.Join("..", "migrations", "000001_initial_schema.up.sql"))
	if err != nil {
		t.Fatalf("Failed to read migration file: %v", err)
	}
	if _, err := db.Exec(string(migrationSQL)); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		db.Close()
		postgresContainer.Terminate(ctx)
	}

	return db, cleanup
}

// setupTestRedis creates a Redis container and returns a client
func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}
	return client, cleanup
}

// seedProject inserts a CO2 vessel project, a global rule set whose two FDV rules
// disagree, and a tenant rule set for another tenant.
func seedProject(t *testing.T, db *sql.DB) {
	t.Helper()

	stmts := []string{
		`INSERT INTO projects (id, tenant_id, medium, ps_value, volume, facts)
		 VALUES ('p-1', 't-1', 'CO2', 350, 20, '{"installation": "cold-store"}')`,
		`INSERT INTO project_fact_entries (project_id, key, value) VALUES ('p-1', 'operator', '"ACME"')`,
		`INSERT INTO rule_sets (id, code, version, scope, active) VALUES ('rs-base', 'PED_BASELINE', 1, 'GLOBAL', TRUE)`,
		`INSERT INTO rule_sets (id, code, version, scope, tenant_id, active) VALUES ('rs-other', 'OTHER_TENANT', 1, 'TENANT', 't-2', TRUE)`,
		`INSERT INTO rules (id, rule_set_id, position, code, condition, outcome) VALUES
		 ('r-doc', 'rs-base', 0, 'PED_CAT_IV', '{"fact": "psValue", "operator": "gte", "value": 300}',
		  '{"type": "REQUIRED_DOCUMENT", "code": "DOC_IV"}'),
		 ('r-full', 'rs-base', 1, 'FDV_FULL', '{"all": [{"fact": "medium", "operator": "eq", "value": "co2"}, {"fact": "operator", "operator": "exists"}]}',
		  '{"type": "REQUIRED_FIELD", "templateCode": "FDV", "field": "inspection", "value": "full"}'),
		 ('r-lite', 'rs-base', 2, 'FDV_LITE', '{"fact": "volume", "operator": "lt", "value": 100}',
		  '{"type": "REQUIRED_FIELD", "templateCode": "FDV", "field": "inspection", "value": "lite"}'),
		 ('r-other', 'rs-other', 0, 'OTHER', NULL, '{"type": "TASK"}')`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("Failed to seed: %v\n%s", err, stmt)
		}
	}
}

func TestPostgresStore_ReadPath(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedProject(t, db)

	ctx := context.Background()
	store := rules.NewPostgresStore(db)

	project, err := store.GetProject(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetProject() failed: %v", err)
	}
	if project.TenantID != "t-1" || *project.PressureValue != 350 || len(project.FactEntries) != 1 {
		t.Errorf("project = %+v", project)
	}
	if _, err := store.GetProject(ctx, "missing"); !errors.Is(err, rules.ErrNotFound) {
		t.Errorf("GetProject(missing) error = %v, want ErrNotFound", err)
	}

	sets, err := rules.NewRuleSetStore(store, nil).Load(ctx, rules.ScopeFilter{TenantID: "t-1", ProjectID: "p-1"})
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if len(sets) != 1 || sets[0].ID != "rs-base" {
		t.Fatalf("rule sets = %v, want only rs-base", sets)
	}
	var codes []string
	for _, r := range sets[0].Rules {
		codes = append(codes, r.Code)
	}
	if fmt.Sprint(codes) != "[PED_CAT_IV FDV_FULL FDV_LITE]" {
		t.Errorf("rule order = %v", codes)
	}
	if _, ok := sets[0].Rules[1].Condition.(rules.All); !ok {
		t.Errorf("FDV_FULL condition = %T, want rules.All", sets[0].Rules[1].Condition)
	}
}

// TestPostgresStore_EvaluationLifecycle runs, resolves and re-runs against PostgreSQL
func TestPostgresStore_EvaluationLifecycle(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedProject(t, db)

	ctx := context.Background()
	store := rules.NewPostgresStore(db)
	orchestrator := evaluation.NewOrchestrator(store, nil)

	first, err := orchestrator.Run(ctx, "p-1", evaluation.RunRequest{TriggeredByUserID: "u-1"})
	if err != nil {
		t.Fatalf("Run() failed: %v", err)
	}
	if first.Summary.Hits != 3 || len(first.Conflicts) != 1 || first.RequirementsModel.Version != 1 {
		t.Fatalf("first run = %+v", first.Summary)
	}

	latest, err := store.GetLatestModel(ctx, "p-1")
	if err != nil {
		t.Fatalf("GetLatestModel() failed: %v", err)
	}
	if latest.ID != first.RequirementsModel.ID || len(latest.UnresolvedConflicts) != 1 {
		t.Errorf("latest model = %+v", latest)
	}
	if len(latest.Requirements.RequiredFields) != 2 {
		t.Errorf("required fields = %d, want 2", len(latest.Requirements.RequiredFields))
	}

	open, err := store.ListConflicts(ctx, "p-1", rules.ConflictOpen)
	if err != nil || len(open) != 1 {
		t.Fatalf("ListConflicts(OPEN) = %d, %v", len(open), err)
	}

	resolved, err := evaluation.NewResolutionService(store).Resolve(ctx, open[0].ID, evaluation.ResolveRequest{
		Resolution: evaluation.ResolveOverrideB,
		UserID:     "u-2",
	})
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	if resolved.Status != rules.ConflictResolved || resolved.ResolvedByOverrideID == "" {
		t.Errorf("resolved conflict = %+v", resolved)
	}

	overrides, err := store.ListOverrides(ctx, "p-1")
	if err != nil || len(overrides) != 1 || overrides[0].RuleID != "r-lite" {
		t.Fatalf("overrides = %v, %v", overrides, err)
	}

	second, err := orchestrator.Run(ctx, "p-1", evaluation.RunRequest{})
	if err != nil {
		t.Fatalf("second Run() failed: %v", err)
	}
	if second.RequirementsModel.Version != 2 || len(second.Conflicts) != 0 || second.Summary.Hits != 2 {
		t.Errorf("second run = version %d, %+v", second.RequirementsModel.Version, second.Summary)
	}

	evals, err := store.ListEvaluations(ctx, "p-1", rules.Page{})
	if err != nil || len(evals) != 2 {
		t.Fatalf("ListEvaluations() = %d, %v", len(evals), err)
	}
	for _, e := range evals {
		if e.Status != rules.EvaluationCompleted || e.CompletedAt == nil {
			t.Errorf("evaluation %s = %s", e.ID, e.Status)
		}
	}
}

// TestPostgresStore_VersionConflictRollsBack verifies a taken version rolls back the whole unit of work
func TestPostgresStore_VersionConflictRollsBack(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	seedProject(t, db)

	ctx := context.Background()
	store := rules.NewPostgresStore(db)
	now := time.Now().UTC()

	newEvaluation := func() *rules.Evaluation {
		e := &rules.Evaluation{ID: uuid.NewString(), ProjectID: "p-1", Scope: "PROJECT", Status: rules.EvaluationRunning, StartedAt: now}
		if err := store.CreateEvaluation(ctx, e); err != nil {
			t.Fatalf("CreateEvaluation() failed: %v", err)
		}
		return e
	}
	persist := func(e *rules.Evaluation) error {
		return store.WithinTx(ctx, func(ctx context.Context, tx rules.Tx) error {
			hit := &rules.Hit{EvaluationID: e.ID, ProjectID: "p-1", RuleID: "r-doc", RuleCode: "PED_CAT_IV",
				Outcome: rules.Outcome{"type": "TASK"}, CreatedAt: now}
			if err := tx.InsertHits(ctx, []*rules.Hit{hit}); err != nil {
				return err
			}
			return tx.CreateRequirementsModel(ctx, &rules.RequirementsModel{
				ProjectID:    "p-1",
				EvaluationID: e.ID,
				Version:      1,
				Requirements: &rules.Requirements{},
				CreatedAt:    now,
			})
		})
	}

	if err := persist(newEvaluation()); err != nil {
		t.Fatalf("first persist failed: %v", err)
	}

	loser := newEvaluation()
	if err := persist(loser); !errors.Is(err, rules.ErrVersionConflict) {
		t.Fatalf("second persist error = %v, want ErrVersionConflict", err)
	}

	var hits int
	if err := db.QueryRow(`SELECT COUNT(*) FROM rule_hits WHERE evaluation_id = $1`, loser.ID).Scan(&hits); err != nil {
		t.Fatalf("count hits: %v", err)
	}
	if hits != 0 {
		t.Errorf("hits from the rolled back unit of work = %d, want 0", hits)
	}
}

// TestRedisRuleSetCache verifies the shared cache round trip and invalidation
func TestRedisRuleSetCache(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ctx := context.Background()
	cache := rules.NewRedisRuleSetCache(client, "test:")
	if err := cache.Ping(ctx); err != nil {
		t.Fatalf("Ping() failed: %v", err)
	}

	repo := rules.NewInMemoryStore()
	repo.AddRuleSet(&rules.RuleSet{ID: "rs-1", Code: "BASE", Version: 1, Scope: rules.ScopeGlobal, Active: true})
	store := rules.NewRuleSetStore(repo, cache)

	if _, err := store.ListCached(ctx, rules.ScopeFilter{}, false); err != nil {
		t.Fatalf("ListCached() failed: %v", err)
	}
	sets, ok := cache.Get(ctx, "rulesets:global")
	if !ok || len(sets) != 1 || sets[0].Code != "BASE" {
		t.Fatalf("cached entry = %v, %v", sets, ok)
	}

	if err := store.InvalidateAll(ctx); err != nil {
		t.Fatalf("InvalidateAll() failed: %v", err)
	}
	if _, ok := cache.Get(ctx, "rulesets:global"); ok {
		t.Error("entry still cached after InvalidateAll")
	}
}
