package lecture

import (
	"fmt"
	"sort"
)

// Entry is one slide of a schedule.
type Entry struct {
	ImageURL         string
	StartTimeSeconds float64
}

// Schedule maps playback time to a slide index. Start times are
// non-decreasing.
type Schedule struct {
	entries []Entry
}

func NewSchedule(entries []Entry) (*Schedule, error) {
	for i := 1; i < len(entries); i++ {
		if entries[i].StartTimeSeconds < entries[i-1].StartTimeSeconds {
			return nil, fmt.Errorf("%w: slide %d starts at %.2fs, before slide %d at %.2fs",
				ErrScheduleOrder, i, entries[i].StartTimeSeconds, i-1, entries[i-1].StartTimeSeconds)
		}
	}
	return &Schedule{entries: append([]Entry(nil), entries...)}, nil
}

// IndexAt returns max{i : start[i] <= t}, or 0 when t precedes every start.
func (s *Schedule) IndexAt(t float64) int {
	// first index whose start is strictly after t
	n := sort.Search(len(s.entries), func(i int) bool {
		return s.entries[i].StartTimeSeconds > t
	})
	if n == 0 {
		return 0
	}
	return n - 1
}

func (s *Schedule) Len() int {
	return len(s.entries)
}

func (s *Schedule) Entry(i int) Entry {
	return s.entries[i]
}

func (s *Schedule) URLs() []string {
	urls := make([]string, len(s.entries))
	for i, e := range s.entries {
		urls[i] = e.ImageURL
	}
	return urls
}

// DistributeStarts spreads n slides evenly over total seconds, the first
// starting at 0.
func DistributeStarts(n int, total float64) []float64 {
	if n <= 0 {
		return nil
	}
	starts := make([]float64, n)
	if total <= 0 {
		return starts
	}
	step := total / float64(n)
	for i := range starts {
		starts[i] = float64(i) * step
	}
	return starts
}

// Durations returns how long each slide stays up given the lecture length.
// The last slide runs until total.
func (s *Schedule) Durations(total float64) []float64 {
	out := make([]float64, len(s.entries))
	for i, e := range s.entries {
		end := total
		if i+1 < len(s.entries) {
			end = s.entries[i+1].StartTimeSeconds
		}
		if d := end - e.StartTimeSeconds; d > 0 {
			out[i] = d
		}
	}
	return out
}
