package duplicates

import (
	"slices"
)

// Selection is the set of record ids marked for deletion.
type Selection struct {
	ids map[string]struct{}
}

// NewSelection returns a selection holding ids.
func NewSelection(ids ...string) *Selection {
	s := &Selection{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add selects id. Empty ids are ignored.
func (s *Selection) Add(id string) {
	if id != "" {
		s.ids[id] = struct{}{}
	}
}

// Remove deselects id.
func (s *Selection) Remove(id string) {
	delete(s.ids, id)
}

// Toggle flips id and reports whether it is now selected.
func (s *Selection) Toggle(id string) bool {
	if s.Contains(id) {
		s.Remove(id)
		return false
	}
	s.Add(id)
	return s.Contains(id)
}

// Contains reports whether id is selected.
func (s *Selection) Contains(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of selected ids.
func (s *Selection) Len() int { return len(s.ids) }

// IDs returns the selected ids sorted.
func (s *Selection) IDs() []string {
	ids := make([]string, 0, len(s.ids))
	for id := range s.ids {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// KeepOldest selects every member except the earliest created one of each set.
func KeepOldest(sets []Set) *Selection {
	sel := NewSelection()
	for i := range sets {
		for _, m := range sets[i].Members[1:] {
			sel.Add(m.ID)
		}
	}
	return sel
}

// KeepNewest selects every member except the latest created one of each set.
func KeepNewest(sets []Set) *Selection {
	sel := NewSelection()
	for i := range sets {
		members := sets[i].Members
		for _, m := range members[:len(members)-1] {
			sel.Add(m.ID)
		}
	}
	return sel
}

// Strategy names accepted by SelectByStrategy.
const (
	StrategyKeepOldest = "keep-oldest"
	StrategyKeepNewest = "keep-newest"
)

// SelectByStrategy applies a named bulk selection. ok is false for an
// unknown name.
func SelectByStrategy(sets []Set, strategy string) (sel *Selection, ok bool) {
	switch strategy {
	case StrategyKeepOldest:
		return KeepOldest(sets), true
	case StrategyKeepNewest:
		return KeepNewest(sets), true
	default:
		return nil, false
	}
}
