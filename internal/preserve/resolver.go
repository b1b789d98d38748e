// Package preserve decides which segments an operator asked to keep and reads
// and writes the flag that marks them.
package preserve

import (
	"github.com/logkeeper/logkeeper/internal/segment"
)

// DefaultBudget is the number of most recent flagged segments honored.
const DefaultBudget = 5

// Set is a set of directory names.
type Set map[string]struct{}

// Has reports whether name is in the set.
func (s Set) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Resolve returns the names that must survive eviction. dirs is in creation
// order, oldest first. Walking newest first, each flagged directory with a
// parsable segment name protects itself and the segment before it on the same
// route. Unparsable flagged names are skipped without spending budget. The
// previous segment is added whether or not it exists.
func Resolve(dirs []string, flagged func(dir string) bool, budget int) Set {
	out := make(Set)
	honored := 0
	for i := len(dirs) - 1; i >= 0 && honored < budget; i-- {
		d := dirs[i]
		if !flagged(d) {
			continue
		}
		name, err := segment.Parse(d)
		if err != nil {
			continue
		}
		out[d] = struct{}{}
		out[name.Prev().String()] = struct{}{}
		honored++
	}
	return out
}
