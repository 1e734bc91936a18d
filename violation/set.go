package violation

import "sort"

// Set is an immutable set of violated track ids. Adding ids yields a new Set with
// a bumped version, so a caller holding an older Set never observes later additions.
type Set struct {
	ids     map[int]struct{}
	version uint64
}

// NewSet creates set holding ids
func NewSet(ids ...int) Set {
	if len(ids) == 0 {
		return Set{}
	}
	return Set{}.With(ids...)
}

// With returns set extended by ids. Returns the receiver unchanged when every id is already present.
func (s Set) With(ids ...int) Set {
	missing := false
	for _, id := range ids {
		if !s.Contains(id) {
			missing = true
			break
		}
	}
	if !missing {
		return s
	}
	next := Set{
		ids:     make(map[int]struct{}, len(s.ids)+len(ids)),
		version: s.version + 1,
	}
	for id := range s.ids {
		next.ids[id] = struct{}{}
	}
	for _, id := range ids {
		next.ids[id] = struct{}{}
	}
	return next
}

// Contains reports whether id has been marked violated
func (s Set) Contains(id int) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns number of ids
func (s Set) Len() int {
	return len(s.ids)
}

// Version increases every time ids are added
func (s Set) Version() uint64 {
	return s.version
}

// IDs returns ids in ascending order
func (s Set) IDs() []int {
	out := make([]int, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
