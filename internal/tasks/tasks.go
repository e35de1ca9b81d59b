// package tasks implements library sync operations between music services.
//
// The core abstraction is the generic sync loop: fetch source items, fetch
// the identifiers already present on the target, resolve each item through a
// finder, then add what is missing, one call per item or in fixed-size
// batches. Operations emit progress updates via channels for non-blocking
// status reporting to CLI/UI layers.
package tasks

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/tdx/internal/ratelimit"
)

// SyncConfig describes one sync run over items of type T.
//
// FetchSource, SourceID, Find and Add (or AddBatch with BatchSize) are
// required; the rest are optional knobs and sinks.
type SyncConfig[T any] struct {
	Kind string // Entity kind for messages ("track", "album", ...)

	FetchSource   func(ctx context.Context) ([]T, error)
	FetchExisting func(ctx context.Context) (map[string]struct{}, error)

	SourceID    func(item T) string
	Describe    func(item T) string
	HasRequired func(item T) bool // Items failing this count as not found

	// InCache reports whether the id was already resolved before this run.
	// Telemetry only; the finder owns the actual cache lookup.
	InCache func(id string) bool

	Find func(ctx context.Context, item T) (string, error)

	Add       func(ctx context.Context, targetID string) error
	AddBatch  func(ctx context.Context, targetIDs []string) error
	BatchSize int

	// ReverseOrder processes newest-first sources oldest-first, so a target
	// that prepends ends up in original chronological order.
	ReverseOrder bool
	Limit        int // Cap on items processed, 0 means all

	NotFound func(item T)                 // Sink for unmatched items
	Synced   func(item T, targetID string) // Sink for resolved items
}

// Result aggregates the counts of one sync run.
type Result struct {
	Added    int
	Skipped  int
	Failed   int
	NotFound int
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
		// Sent successfully
	default:
		// Channel full or closed, skip this update
	}
}

// prepare fetches and orders the source items and the existing-target set.
func prepare[T any](ctx context.Context, cfg SyncConfig[T], progress chan<- ProgressUpdate) ([]T, map[string]struct{}, error) {
	sendProgress(progress, fetchSourceUpdate(cfg.Kind, "source"))

	items, err := cfg.FetchSource(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch source %ss: %w", cfg.Kind, err)
	}
	if len(items) == 0 {
		return nil, nil, nil
	}

	if cfg.Limit > 0 && len(items) > cfg.Limit {
		items = items[:cfg.Limit]
	}

	if cfg.ReverseOrder {
		reversed := make([]T, len(items))
		for i, item := range items {
			reversed[len(items)-1-i] = item
		}
		items = reversed
	}

	existing := map[string]struct{}{}
	if cfg.FetchExisting != nil {
		sendProgress(progress, fetchTargetUpdate(cfg.Kind, "target"))
		existing, err = cfg.FetchExisting(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch existing %ss: %w", cfg.Kind, err)
		}
	}

	return items, existing, nil
}

func describe[T any](cfg SyncConfig[T], item T) string {
	if cfg.Describe != nil {
		return cfg.Describe(item)
	}
	return cfg.SourceID(item)
}

// resolve runs the shared head of both modes for one item: required-field
// check, telemetry lookup, and the finder call. A "" id with a nil error
// means the item has no counterpart on the target.
func resolve[T any](ctx context.Context, cfg SyncConfig[T], logger *log.Logger, item T) (string, bool, error) {
	id := cfg.SourceID(item)
	if id == "" || (cfg.HasRequired != nil && !cfg.HasRequired(item)) {
		logger.Warn("skipping item with missing fields", "kind", cfg.Kind, "id", id, "item", describe(cfg, item))
		return "", false, nil
	}

	fromCache := cfg.InCache != nil && cfg.InCache(id)

	targetID, err := cfg.Find(ctx, item)
	if err != nil {
		return "", fromCache, err
	}
	return targetID, fromCache, nil
}

// SyncItems runs a sync in single-add mode: each resolved item not already
// present is added with its own call. Per-item add failures are counted and
// logged but never abort the loop.
func SyncItems[T any](ctx context.Context, limiter *ratelimit.RateLimiter, logger *log.Logger, progress chan<- ProgressUpdate, cfg SyncConfig[T]) (Result, error) {
	limiter.Start()
	defer limiter.Stop()

	var result Result

	items, existing, err := prepare(ctx, cfg, progress)
	if err != nil || len(items) == 0 {
		return result, err
	}

	total := len(items)
	sendProgress(progress, totalUpdate(total, cfg.Kind))

	for i, item := range items {
		targetID, fromCache, err := resolve(ctx, cfg, logger, item)
		if err != nil {
			return result, err
		}

		if targetID == "" {
			result.NotFound++
			sendProgress(progress, itemUpdate(i+1, total, describe(cfg, item), ItemEvent{}))
			if cfg.NotFound != nil {
				cfg.NotFound(item)
			}
			continue
		}

		if _, present := existing[targetID]; present {
			result.Skipped++
			sendProgress(progress, itemUpdate(i+1, total, describe(cfg, item), ItemEvent{Matched: true, FromCache: fromCache}))
			continue
		}

		if err := cfg.Add(ctx, targetID); err != nil {
			result.Failed++
			logger.Error("add failed", "kind", cfg.Kind, "target_id", targetID, "err", err)
			sendProgress(progress, itemUpdate(i+1, total, describe(cfg, item), ItemEvent{Matched: true, FromCache: fromCache, Failed: true}))
			continue
		}

		result.Added++
		existing[targetID] = struct{}{}
		sendProgress(progress, itemUpdate(i+1, total, describe(cfg, item), ItemEvent{Matched: true, FromCache: fromCache}))
		if cfg.Synced != nil {
			cfg.Synced(item, targetID)
		}
	}

	return result, nil
}

// SyncItemsBatched runs a sync in batched mode: resolved identifiers not
// already present are accumulated and submitted in batches of BatchSize. A
// failed batch is logged and excluded from the added count; earlier
// successful batches still count.
func SyncItemsBatched[T any](ctx context.Context, limiter *ratelimit.RateLimiter, logger *log.Logger, progress chan<- ProgressUpdate, cfg SyncConfig[T]) (Result, error) {
	limiter.Start()
	defer limiter.Stop()

	var result Result

	items, existing, err := prepare(ctx, cfg, progress)
	if err != nil || len(items) == 0 {
		return result, err
	}

	total := len(items)
	sendProgress(progress, totalUpdate(total, cfg.Kind))

	var pending []string
	for i, item := range items {
		targetID, fromCache, err := resolve(ctx, cfg, logger, item)
		if err != nil {
			return result, err
		}

		if targetID == "" {
			result.NotFound++
			sendProgress(progress, itemUpdate(i+1, total, describe(cfg, item), ItemEvent{}))
			if cfg.NotFound != nil {
				cfg.NotFound(item)
			}
			continue
		}

		if _, present := existing[targetID]; present {
			result.Skipped++
			sendProgress(progress, itemUpdate(i+1, total, describe(cfg, item), ItemEvent{Matched: true, FromCache: fromCache}))
			continue
		}

		pending = append(pending, targetID)
		existing[targetID] = struct{}{}
		sendProgress(progress, itemUpdate(i+1, total, describe(cfg, item), ItemEvent{Matched: true, FromCache: fromCache}))
		if cfg.Synced != nil {
			cfg.Synced(item, targetID)
		}
	}

	size := cfg.BatchSize
	if size <= 0 {
		size = len(pending)
	}

	batches := 0
	if size > 0 {
		batches = (len(pending) + size - 1) / size
	}

	for b := 0; b < batches; b++ {
		start := b * size
		end := start + size
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		sendProgress(progress, batchUpdate(b+1, batches, len(batch)))

		if err := cfg.AddBatch(ctx, batch); err != nil {
			result.Failed += len(batch)
			logger.Error("batch add failed", "kind", cfg.Kind, "size", len(batch), "err", err)
			continue
		}
		result.Added += len(batch)
	}

	return result, nil
}
