// Package models defines the domain types for duetology.
package models

import (
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Collection names. They double as the realtime store paths.
const (
	CollectionRatings     = "teacher-ratings"
	CollectionConfessions = "confessions"
)

// Score bounds for ratings.
const (
	MinScore = 1
	MaxScore = 5
)

// DefaultConfessionCategory is used when a confession is submitted without a category.
const DefaultConfessionCategory = "general"

// ConfessionCategories is the fixed catalog a confession may be filed under.
var ConfessionCategories = []string{
	"love", "work", "family", "friendship", "secret", "regret", "happiness", "general", "other",
}

// Record is a single rating or confession as stored in the realtime store.
type Record struct {
	ID              string `json:"id" yaml:"id"`
	SubjectName     string `json:"subjectName" yaml:"subjectName"`
	SubjectCategory string `json:"subjectCategory" yaml:"subjectCategory"`
	Score           *int   `json:"score,omitempty" yaml:"score,omitempty"`
	Text            string `json:"text" yaml:"text"`
	CreatedAtMillis int64  `json:"createdAtMillis" yaml:"createdAtMillis"`
	VoteCount       int64  `json:"voteCount" yaml:"voteCount"`
	Approved        bool   `json:"approved" yaml:"approved"`
}

// HasScore reports whether the record carries a rating score.
func (r Record) HasScore() bool {
	return r.Score != nil
}

// ScoreValue returns the score, or 0 when absent.
func (r Record) ScoreValue() int {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// Patch is a partial write. Only the vote counter is mutable after creation.
type Patch struct {
	VoteCount *int64 `json:"voteCount,omitempty"`
}

// Validate validates the patch.
func (p Patch) Validate() error {
	if p.VoteCount == nil {
		return fmt.Errorf("voteCount: %w", validation.ErrRequired)
	}
	return validation.Validate(*p.VoteCount, validation.Min(int64(0)))
}

// Score returns a pointer to s, for building rating records.
func Score(s int) *int {
	return &s
}

// IsCollection reports whether name is a known collection.
func IsCollection(name string) bool {
	return name == CollectionRatings || name == CollectionConfessions
}

// Normalize trims free-text fields and applies collection defaults before validation.
func (r *Record) Normalize(collection string) {
	r.SubjectName = strings.TrimSpace(r.SubjectName)
	r.SubjectCategory = strings.TrimSpace(r.SubjectCategory)
	r.Text = strings.TrimSpace(r.Text)
	if collection == CollectionConfessions {
		r.SubjectName = ""
		r.Score = nil
		if r.SubjectCategory == "" {
			r.SubjectCategory = DefaultConfessionCategory
		}
	}
}

// ValidateFor validates a new record against the rules of its collection.
func (r *Record) ValidateFor(collection string) error {
	switch collection {
	case CollectionRatings:
		return validation.ValidateStruct(r,
			validation.Field(&r.SubjectName, validation.Required, validation.RuneLength(1, 100)),
			validation.Field(&r.SubjectCategory, validation.Required, validation.RuneLength(1, 100)),
			validation.Field(&r.Score, validation.Required, validation.Min(MinScore), validation.Max(MaxScore)),
			validation.Field(&r.Text, validation.Required, validation.RuneLength(20, 1500)),
			validation.Field(&r.VoteCount, validation.Min(int64(0))),
		)
	case CollectionConfessions:
		return validation.ValidateStruct(r,
			validation.Field(&r.SubjectCategory, validation.Required, validation.In(toAny(ConfessionCategories)...)),
			validation.Field(&r.Text, validation.Required, validation.RuneLength(10, 1000)),
			validation.Field(&r.VoteCount, validation.Min(int64(0))),
		)
	default:
		return fmt.Errorf("unknown collection %q", collection)
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// Snapshot is the full, newest-first content of one collection as pushed to
// subscribers. Checksum fingerprints Records.
type Snapshot struct {
	Collection string   `json:"collection"`
	Records    []Record `json:"records"`
	Checksum   string   `json:"checksum"`
}
