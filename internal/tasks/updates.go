package tasks

import "fmt"

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display. Item is
// set only on per-item events and carries the match outcome.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Item    *ItemEvent
}

// ItemEvent is the outcome of one source item.
//
// Matched means a target identifier was resolved (a skip of an
// already-present item is still a match). Failed marks a resolved item
// whose add call errored. The three shapes callers distinguish:
// skip (Matched), failed add (Matched+Failed), not found (neither).
type ItemEvent struct {
	Matched   bool
	FromCache bool
	Failed    bool
}

// Operation phase enumeration
type Phase int

const (
	FetchSource Phase = iota
	FetchTarget
	SearchItems
	ApplyAdds
	CreatePlaylist
)

func (p Phase) String() string {
	switch p {
	case FetchSource:
		return "fetch_source"
	case FetchTarget:
		return "fetch_target"
	case SearchItems:
		return "search_items"
	case ApplyAdds:
		return "apply_adds"
	case CreatePlaylist:
		return "create_playlist"
	default:
		return ""
	}
}

func fetchSourceUpdate(kind, service string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchSource,
		Step:    1,
		Total:   2,
		Message: fmt.Sprintf("Fetching %ss from %s...", kind, service),
	}
}

func fetchTargetUpdate(kind, service string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchTarget,
		Step:    2,
		Total:   2,
		Message: fmt.Sprintf("Fetching existing %ss from %s...", kind, service),
	}
}

func totalUpdate(total int, kind string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   SearchItems,
		Step:    0,
		Total:   total,
		Message: fmt.Sprintf("Matching %d %ss...", total, kind),
	}
}

func itemUpdate(step, total int, description string, event ItemEvent) ProgressUpdate {
	marker := "✓"
	switch {
	case event.Failed:
		marker = "✗"
	case !event.Matched:
		marker = "?"
	}
	return ProgressUpdate{
		Phase:   SearchItems,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s", step, total, marker, description),
		Item:    &event,
	}
}

func batchUpdate(step, total, size int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   ApplyAdds,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Adding batch of %d...", step, total, size),
	}
}

func createPlaylistUpdate(name string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   CreatePlaylist,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Creating playlist: %s", name),
	}
}
