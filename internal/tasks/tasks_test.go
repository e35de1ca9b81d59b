package tasks

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/tdx/internal/ratelimit"
)

type item struct {
	id   string
	name string
}

func testLogger() *log.Logger {
	return log.New(io.Discard)
}

func testLimiter() *ratelimit.RateLimiter {
	return ratelimit.New(4, 1000)
}

// drainItems collects the per-item events out of a progress channel.
func drainItems(progress chan ProgressUpdate) []ItemEvent {
	var events []ItemEvent
	for {
		select {
		case update := <-progress:
			if update.Item != nil {
				events = append(events, *update.Item)
			}
		default:
			return events
		}
	}
}

func baseConfig(items []item, find map[string]string) SyncConfig[item] {
	return SyncConfig[item]{
		Kind:        "track",
		FetchSource: func(ctx context.Context) ([]item, error) { return items, nil },
		SourceID:    func(i item) string { return i.id },
		Describe:    func(i item) string { return i.name },
		Find: func(ctx context.Context, i item) (string, error) {
			return find[i.id], nil
		},
	}
}

func TestSyncItems_Outcomes(t *testing.T) {
	// Four items: one resolves to an id already present, one resolves but
	// its add call errors, one adds cleanly, one has no counterpart.
	items := []item{
		{id: "already", name: "Already There"},
		{id: "breaks", name: "Add Breaks"},
		{id: "fresh", name: "Fresh"},
		{id: "ghost", name: "Ghost"},
	}
	cfg := baseConfig(items, map[string]string{
		"already": "t-already",
		"breaks":  "t-breaks",
		"fresh":   "t-fresh",
	})
	cfg.FetchExisting = func(ctx context.Context) (map[string]struct{}, error) {
		return map[string]struct{}{"t-already": {}}, nil
	}
	cfg.Add = func(ctx context.Context, targetID string) error {
		if targetID == "t-breaks" {
			return errors.New("tidal API error: status 500")
		}
		return nil
	}

	var notFound []item
	cfg.NotFound = func(i item) { notFound = append(notFound, i) }

	progress := make(chan ProgressUpdate, 32)
	result, err := SyncItems(context.Background(), testLimiter(), testLogger(), progress, cfg)
	if err != nil {
		t.Fatalf("SyncItems failed: %v", err)
	}

	want := Result{Added: 1, Skipped: 1, Failed: 1, NotFound: 1}
	if result != want {
		t.Errorf("result = %+v, want %+v", result, want)
	}

	if len(notFound) != 1 || notFound[0].id != "ghost" {
		t.Errorf("not-found sink = %v, want the unmatched item", notFound)
	}

	events := drainItems(progress)
	if len(events) != 4 {
		t.Fatalf("item events = %d, want 4", len(events))
	}
	// Source order: skip, failed add, clean add, not found.
	if !events[0].Matched || events[0].Failed {
		t.Errorf("skip event = %+v, want matched without failure", events[0])
	}
	if !events[1].Matched || !events[1].Failed {
		t.Errorf("failed-add event = %+v, want matched and failed", events[1])
	}
	if !events[2].Matched || events[2].Failed {
		t.Errorf("add event = %+v, want matched without failure", events[2])
	}
	if events[3].Matched {
		t.Errorf("not-found event = %+v, want unmatched", events[3])
	}
}

func TestSyncItems_EmptySource(t *testing.T) {
	cfg := baseConfig(nil, nil)
	called := false
	cfg.FetchExisting = func(ctx context.Context) (map[string]struct{}, error) {
		called = true
		return nil, nil
	}

	result, err := SyncItems(context.Background(), testLimiter(), testLogger(), nil, cfg)
	if err != nil {
		t.Fatalf("SyncItems failed: %v", err)
	}
	if result != (Result{}) {
		t.Errorf("result = %+v, want zero", result)
	}
	if called {
		t.Error("existing-set fetch should be skipped for an empty source")
	}
}

func TestSyncItems_ReverseOrder(t *testing.T) {
	items := []item{{id: "newest"}, {id: "middle"}, {id: "oldest"}}
	cfg := baseConfig(items, map[string]string{
		"newest": "t-newest", "middle": "t-middle", "oldest": "t-oldest",
	})
	cfg.ReverseOrder = true

	var added []string
	cfg.Add = func(ctx context.Context, targetID string) error {
		added = append(added, targetID)
		return nil
	}

	if _, err := SyncItems(context.Background(), testLimiter(), testLogger(), nil, cfg); err != nil {
		t.Fatalf("SyncItems failed: %v", err)
	}

	want := []string{"t-oldest", "t-middle", "t-newest"}
	for i, id := range want {
		if added[i] != id {
			t.Fatalf("add order = %v, want %v", added, want)
		}
	}
}

func TestSyncItems_Limit(t *testing.T) {
	items := []item{{id: "a"}, {id: "b"}, {id: "c"}}
	cfg := baseConfig(items, map[string]string{"a": "t-a", "b": "t-b", "c": "t-c"})
	cfg.Limit = 2

	count := 0
	cfg.Add = func(ctx context.Context, targetID string) error {
		count++
		return nil
	}

	if _, err := SyncItems(context.Background(), testLimiter(), testLogger(), nil, cfg); err != nil {
		t.Fatalf("SyncItems failed: %v", err)
	}
	if count != 2 {
		t.Errorf("adds = %d, want 2", count)
	}
}

func TestSyncItems_MissingFieldsCountNotFound(t *testing.T) {
	items := []item{{id: "nameless"}}
	cfg := baseConfig(items, map[string]string{"nameless": "t-1"})
	cfg.HasRequired = func(i item) bool { return i.name != "" }
	cfg.Add = func(ctx context.Context, targetID string) error {
		t.Fatal("add must not run for an item with missing fields")
		return nil
	}

	var sunk []item
	cfg.NotFound = func(i item) { sunk = append(sunk, i) }

	result, err := SyncItems(context.Background(), testLimiter(), testLogger(), nil, cfg)
	if err != nil {
		t.Fatalf("SyncItems failed: %v", err)
	}
	if result.NotFound != 1 {
		t.Errorf("not found = %d, want 1", result.NotFound)
	}
	if len(sunk) != 1 {
		t.Error("item with missing fields must reach the not-found sink")
	}
}

func TestSyncItems_FatalFindAborts(t *testing.T) {
	items := []item{{id: "a"}, {id: "b"}}
	cfg := baseConfig(items, nil)
	cfg.Find = func(ctx context.Context, i item) (string, error) {
		return "", errors.New("cache store is gone")
	}

	_, err := SyncItems(context.Background(), testLimiter(), testLogger(), nil, cfg)
	if err == nil {
		t.Fatal("a fatal finder error must abort the run")
	}
}

func TestSyncItemsBatched_PartialFailure(t *testing.T) {
	items := []item{{id: "a"}, {id: "b"}, {id: "c"}}
	cfg := baseConfig(items, map[string]string{"a": "t-a", "b": "t-b", "c": "t-c"})
	cfg.BatchSize = 2

	var calls [][]string
	cfg.AddBatch = func(ctx context.Context, ids []string) error {
		calls = append(calls, ids)
		if len(calls) == 2 {
			return errors.New("tidal API error: status 500")
		}
		return nil
	}

	result, err := SyncItemsBatched(context.Background(), testLimiter(), testLogger(), nil, cfg)
	if err != nil {
		t.Fatalf("SyncItemsBatched failed: %v", err)
	}

	if len(calls) != 2 {
		t.Fatalf("batch calls = %d, want 2", len(calls))
	}
	if len(calls[0]) != 2 || len(calls[1]) != 1 {
		t.Errorf("batch sizes = (%d, %d), want (2, 1)", len(calls[0]), len(calls[1]))
	}
	if result.Added != 2 || result.NotFound != 0 {
		t.Errorf("result = %+v, want added 2 and not found 0", result)
	}
}

func TestSyncItemsBatched_DedupAndSinks(t *testing.T) {
	items := []item{
		{id: "present", name: "Present"},
		{id: "new", name: "New"},
		{id: "ghost", name: "Ghost"},
	}
	cfg := baseConfig(items, map[string]string{"present": "t-present", "new": "t-new"})
	cfg.BatchSize = 50
	cfg.FetchExisting = func(ctx context.Context) (map[string]struct{}, error) {
		return map[string]struct{}{"t-present": {}}, nil
	}

	var batches [][]string
	cfg.AddBatch = func(ctx context.Context, ids []string) error {
		batches = append(batches, ids)
		return nil
	}

	var synced, notFound []item
	cfg.Synced = func(i item, targetID string) { synced = append(synced, i) }
	cfg.NotFound = func(i item) { notFound = append(notFound, i) }

	result, err := SyncItemsBatched(context.Background(), testLimiter(), testLogger(), nil, cfg)
	if err != nil {
		t.Fatalf("SyncItemsBatched failed: %v", err)
	}

	want := Result{Added: 1, Skipped: 1, NotFound: 1}
	if result != want {
		t.Errorf("result = %+v, want %+v", result, want)
	}
	if len(batches) != 1 || len(batches[0]) != 1 || batches[0][0] != "t-new" {
		t.Errorf("batches = %v, want a single batch with the new id", batches)
	}
	if len(synced) != 1 || synced[0].id != "new" {
		t.Errorf("synced sink = %v, want the new item", synced)
	}
	if len(notFound) != 1 || notFound[0].id != "ghost" {
		t.Errorf("not-found sink = %v, want the ghost item", notFound)
	}
}

func TestSendProgress_NeverBlocks(t *testing.T) {
	full := make(chan ProgressUpdate, 1)
	full <- ProgressUpdate{}

	done := make(chan struct{})
	go func() {
		sendProgress(full, ProgressUpdate{Message: "dropped"})
		sendProgress(nil, ProgressUpdate{Message: "nil channel"})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sendProgress blocked on a full channel")
	}
}
