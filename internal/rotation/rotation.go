package rotation

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"k8s.io/utils/ptr"
)

// ErrNoFilters is returned when a Rotation is built without any usable filter.
var ErrNoFilters = errors.New("rotation requires at least one filter")

type filterState struct {
	filter string
	cursor *string
}

// Rotation walks a fixed set of search filters in a circle, remembering the
// pagination cursor of the filter currently being crawled.
type Rotation struct {
	filters []filterState
	idx     int
}

// New builds a Rotation over filters, in order.
func New(filters []string) (*Rotation, error) {
	if len(filters) == 0 {
		return nil, ErrNoFilters
	}
	states := make([]filterState, 0, len(filters))
	for i, f := range filters {
		f = strings.TrimSpace(f)
		if f == "" {
			return nil, fmt.Errorf("filter %d is blank: %w", i, ErrNoFilters)
		}
		states = append(states, filterState{filter: f})
	}
	return &Rotation{filters: states}, nil
}

// Current returns the active filter and its cursor; a nil cursor means the
// first page.
func (r *Rotation) Current() (string, *string) {
	s := r.filters[r.idx]
	return s.filter, s.cursor
}

// AdvancePage stores the cursor of the next page for the active filter.
func (r *Rotation) AdvancePage(cursor string) {
	r.filters[r.idx].cursor = ptr.To(cursor)
}

// Rotate moves to the next filter, wrapping around, and forgets the cursor of
// the filter being left.
func (r *Rotation) Rotate() {
	r.filters[r.idx].cursor = nil
	r.idx = (r.idx + 1) % len(r.filters)
}

// Len returns the number of filters.
func (r *Rotation) Len() int { return len(r.filters) }

// Index returns the position of the active filter.
func (r *Rotation) Index() int { return r.idx }

var defaultLanguages = []string{"Python", "JavaScript", "Java", "Go", "Rust"}

// DefaultFilters returns star thresholds, popular languages and a recency
// filter covering the year before now.
func DefaultFilters(now time.Time) []string {
	filters := []string{
		"stars:>0",
		"stars:>10",
		"stars:>100",
		"stars:>1000",
	}
	for _, lang := range defaultLanguages {
		filters = append(filters, "language:"+lang+" stars:>0")
	}
	since := now.UTC().AddDate(-1, 0, 0).Format(time.DateOnly)
	return append(filters, "pushed:>"+since+" stars:>0")
}
