package selection

import (
	"time"

	"github.com/signalsfoundry/terrainview/model"
)

// DefaultFreshWindow separates interactive selections from restored ones.
const DefaultFreshWindow = 150 * time.Millisecond

// Key identifies a selection for deduplication.
type Key struct {
	SortKey      float64
	Timestamp    int64
	HasTimestamp bool
}

// KeyOf returns the dedup identity of item.
func KeyOf(item *model.SelectionItem) Key {
	k := Key{SortKey: item.SortKey}
	if item.SelectionTimestamp != nil {
		k.Timestamp = *item.SelectionTimestamp
		k.HasTimestamp = true
	}
	return k
}

// IsFresh reports whether item was made interactively within window of now.
// Items without a timestamp were restored from state and are never fresh.
func IsFresh(item *model.SelectionItem, now time.Time, window time.Duration) bool {
	if item == nil || item.SelectionTimestamp == nil {
		return false
	}
	age := now.UnixMilli() - *item.SelectionTimestamp
	return age < window.Milliseconds()
}
