package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

// TestRelevantEvents verifies only YAML writes outside hidden files trigger reloads
func TestRelevantEvents(t *testing.T) {
	testCases := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "/rules/base.yaml", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/rules/base.YML", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/rules/base.yaml", Op: fsnotify.Remove}, true},
		{fsnotify.Event{Name: "/rules/base.yaml", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/rules/.base.yaml.swp", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/rules/.hidden.yaml", Op: fsnotify.Write}, false},
		{fsnotify.Event{Name: "/rules/README.md", Op: fsnotify.Write}, false},
	}
	for _, tc := range testCases {
		if got := relevant(tc.event); got != tc.want {
			t.Errorf("relevant(%s %s) = %v, want %v", tc.event.Op, tc.event.Name, got, tc.want)
		}
	}
}

// TestWatcherInvalidatesOnChange verifies a file change reaches onChange and the cache is dropped
func TestWatcherInvalidatesOnChange(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", pedBaseline)

	repo := &countingRepo{sets: []*RuleSet{{ID: "rs-1", Scope: ScopeGlobal, Active: true}}}
	store := NewRuleSetStore(repo, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := store.ListCached(ctx, ScopeFilter{}, false); err != nil {
		t.Fatalf("ListCached() failed: %v", err)
	}

	changed := make(chan struct{}, 1)
	w := NewRuleSetWatcher(dir, 10*time.Millisecond, func(ctx context.Context) error {
		err := store.InvalidateAll(ctx)
		select {
		case changed <- struct{}{}:
		default:
		}
		return err
	}, nil)

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// The watch is registered asynchronously; keep writing until an event lands.
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
wait:
	for i := 0; ; i++ {
		select {
		case <-changed:
			break wait
		case <-deadline:
			t.Fatal("onChange was not called")
		case <-tick.C:
			writeFile(t, dir, "extra.yaml", fmt.Sprintf("code: EXTRA\nversion: %d\nscope: GLOBAL\n", i+1))
		}
	}

	if _, err := store.ListCached(ctx, ScopeFilter{}, false); err != nil {
		t.Fatalf("ListCached() failed: %v", err)
	}
	if repo.Calls() < 2 {
		t.Errorf("repository calls = %d, want a reload after invalidation", repo.Calls())
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch() returned %v after cancel", err)
		}
	case <-time.After(2 * time.Second):
		t.Error("Watch() did not return after cancel")
	}
}
