// Package segment describes the directories a recorder writes under a log root:
// how their names are parsed, how they are listed, and how in-progress work
// inside them is detected.
package segment

import (
	"fmt"
	"strconv"
	"strings"
)

// Separator splits a route identifier from a segment number.
const Separator = "--"

// Name is a parsed segment directory name.
type Name struct {
	Route  string
	Number int
}

// String returns the on-disk directory name.
func (n Name) String() string {
	return n.Route + Separator + strconv.Itoa(n.Number)
}

// Prev returns the segment recorded immediately before n on the same route.
// The result may not exist on disk.
func (n Name) Prev() Name {
	return Name{Route: n.Route, Number: n.Number - 1}
}

// Parse splits a directory name on its last separator. Names without a route
// part or with a non-numeric or negative segment number are not segments.
func Parse(dir string) (Name, error) {
	idx := strings.LastIndex(dir, Separator)
	if idx <= 0 {
		return Name{}, fmt.Errorf("not a segment name: %q", dir)
	}
	route, num := dir[:idx], dir[idx+len(Separator):]
	n, err := strconv.Atoi(num)
	if err != nil || n < 0 {
		return Name{}, fmt.Errorf("not a segment name: %q", dir)
	}
	return Name{Route: route, Number: n}, nil
}
