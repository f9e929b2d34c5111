// Package guard enforces at-most-once votes per client.
//
// A Set remembers which record ids the local client has already voted on. It is
// a soft, purely local measure: the record store stays the source of truth for
// vote counts, and nothing here is shared between clients or devices.
package guard

import "encoding/json"

// Set is an insertion-ordered set of record ids. Values are never mutated in
// place; RecordVote returns a new Set.
type Set struct {
	ids  []string
	seen map[string]struct{}
}

// NewSet builds a Set from ids, dropping duplicates.
func NewSet(ids ...string) Set {
	s := Set{seen: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		if s.has(id) {
			continue
		}
		s.seen[id] = struct{}{}
		s.ids = append(s.ids, id)
	}
	return s
}

// Len returns the number of ids in the set.
func (s Set) Len() int {
	return len(s.ids)
}

// IDs returns the ids in the order they were recorded.
func (s Set) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Equal reports whether both sets contain the same ids in the same order.
func (s Set) Equal(o Set) bool {
	if len(s.ids) != len(o.ids) {
		return false
	}
	for i := range s.ids {
		if s.ids[i] != o.ids[i] {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as a JSON array of ids.
func (s Set) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

// UnmarshalJSON decodes a JSON array of ids. A JSON null yields an empty set.
func (s *Set) UnmarshalJSON(data []byte) error {
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	*s = NewSet(ids...)
	return nil
}

func (s Set) has(id string) bool {
	_, ok := s.seen[id]
	return ok
}

func (s Set) with(id string) Set {
	if s.has(id) {
		return s
	}
	next := Set{
		ids:  make([]string, len(s.ids), len(s.ids)+1),
		seen: make(map[string]struct{}, len(s.ids)+1),
	}
	copy(next.ids, s.ids)
	for _, v := range s.ids {
		next.seen[v] = struct{}{}
	}
	next.ids = append(next.ids, id)
	next.seen[id] = struct{}{}
	return next
}

// HasVoted reports whether id is in the set.
func HasVoted(s Set, id string) bool {
	return s.has(id)
}

// RecordVote returns s with id added. Recording an id twice returns s unchanged.
func RecordVote(s Set, id string) Set {
	return s.with(id)
}
