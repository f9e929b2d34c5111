package aggregate

import (
	"strings"

	"github.com/starford/duetology/internal/models"
)

// AllCategories is the pass-through category sentinel used by the list filters.
const AllCategories = "all"

// Criteria narrows a snapshot. The zero value matches every record.
type Criteria struct {
	// Category must equal SubjectCategory exactly; "" or AllCategories disables it.
	Category string
	// Search is matched case-insensitively as a substring of SubjectName.
	Search string
	// MinScore keeps records scored at least this much; 0 disables it.
	MinScore int
}

// IsZero reports whether the criteria impose no constraint.
func (c Criteria) IsZero() bool {
	return !c.hasCategory() && c.term() == "" && c.MinScore <= 0
}

func (c Criteria) hasCategory() bool {
	return c.Category != "" && c.Category != AllCategories
}

func (c Criteria) term() string {
	return strings.ToLower(strings.TrimSpace(c.Search))
}

// Match reports whether r satisfies every constraint in c.
func (c Criteria) Match(r models.Record) bool {
	if c.hasCategory() && r.SubjectCategory != c.Category {
		return false
	}
	if t := c.term(); t != "" && !strings.Contains(strings.ToLower(r.SubjectName), t) {
		return false
	}
	if c.MinScore > 0 && (!r.HasScore() || r.ScoreValue() < c.MinScore) {
		return false
	}
	return true
}

// Filter returns the records matching c, in their original order.
func Filter(records []models.Record, c Criteria) []models.Record {
	if c.IsZero() {
		return records
	}
	out := make([]models.Record, 0, len(records))
	for _, r := range records {
		if c.Match(r) {
			out = append(out, r)
		}
	}
	return out
}
