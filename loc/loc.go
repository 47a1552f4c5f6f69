// Package loc tracks locations within listing files.
package loc

import (
	"fmt"
	"sort"
)

// Loc is a byte range [start, end) within one listing file.
// Offsets are 1-based so that the zero value means no location.
type Loc [2]int

// A Locer has a location.
type Locer interface {
	Loc() Loc
}

// Location is a Loc resolved to lines and columns.
// The zero value indicates no location.
type Location struct {
	Path string
	Line [2]int
	Col  [2]int
}

func (l Location) String() string {
	if (l == Location{}) {
		return ""
	}
	if l.Line[0] == l.Line[1] && l.Col[0] == l.Col[1] {
		return fmt.Sprintf("%s:%d.%d", l.Path, l.Line[0], l.Col[0])
	}
	return fmt.Sprintf("%s:%d.%d-%d.%d", l.Path, l.Line[0], l.Col[0], l.Line[1], l.Col[1])
}

// File describes a listing file by its path, size, and newline byte offsets.
type File interface {
	Path() string
	Len() int
	NewLines() []int
}

// Locate resolves l within f.
func Locate(f File, l Loc) Location {
	switch {
	case l == Loc{}:
		return Location{}
	case l[0] < 1 || l[1]-1 > f.Len():
		panic("out of range")
	case l[0] > l[1]:
		panic("bad Loc")
	}
	l0, c0 := lineCol(f.NewLines(), l[0]-1)
	l1, c1 := lineCol(f.NewLines(), l[1]-1)
	return Location{Path: f.Path(), Line: [2]int{l0, l1}, Col: [2]int{c0, c1}}
}

// lineCol returns the 1-based line and column of byte offset q.
func lineCol(nls []int, q int) (int, int) {
	i := sort.SearchInts(nls, q)
	if i == 0 {
		return 1, q + 1
	}
	return i + 1, q - nls[i-1]
}
