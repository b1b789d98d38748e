package segment

import (
	"sort"
)

// Priority orders entries for eviction. Lower values go first.
type Priority int

const (
	Normal Priority = iota
	LowPriority
)

// String returns a string representation of the priority.
func (p Priority) String() string {
	switch p {
	case Normal:
		return "normal"
	case LowPriority:
		return "low_priority"
	default:
		return "unknown"
	}
}

// Candidate is an entry with its eviction rank for the current tick.
type Candidate struct {
	Name     string
	Priority Priority
	// Preserved entries sort after the unpreserved ones of the same priority.
	Preserved bool
}

func (c Candidate) before(o Candidate) bool {
	if c.Priority != o.Priority {
		return c.Priority < o.Priority
	}
	return !c.Preserved && o.Preserved
}

// Classify tags every entry with its priority and preservation.
func Classify(dirs []string, lowPriority []string, preserved map[string]struct{}) []Candidate {
	low := make(map[string]struct{}, len(lowPriority))
	for _, name := range lowPriority {
		low[name] = struct{}{}
	}

	out := make([]Candidate, 0, len(dirs))
	for _, d := range dirs {
		c := Candidate{Name: d, Priority: Normal}
		if _, ok := low[d]; ok {
			c.Priority = LowPriority
		}
		if _, ok := preserved[d]; ok {
			c.Preserved = true
		}
		out = append(out, c)
	}
	return out
}

// EvictionOrder returns dirs sorted for eviction, keeping listing order within
// each rank: unpreserved normal entries, preserved normal entries, then the
// low-priority names with the preserved ones last.
func EvictionOrder(dirs []string, lowPriority []string, preserved map[string]struct{}) []Candidate {
	candidates := Classify(dirs, lowPriority, preserved)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].before(candidates[j])
	})
	return candidates
}
