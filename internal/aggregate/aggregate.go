// Package aggregate turns a snapshot of rating records into per-subject summaries
// and narrows snapshots with the list filters. Everything here is pure: the same
// input always yields the same output and nothing is cached between calls.
package aggregate

import (
	"math"
	"sort"

	"github.com/starford/duetology/internal/models"
)

// Summary is the derived statistics for one (subject, category) pair.
type Summary struct {
	SubjectName     string          `json:"subjectName"`
	SubjectCategory string          `json:"subjectCategory"`
	Count           int             `json:"count"`
	AverageScore    float64         `json:"averageScore"`
	Records         []models.Record `json:"records"`
}

// Rounded returns the average rounded to one decimal place.
func (s Summary) Rounded() float64 {
	return math.Round(s.AverageScore*10) / 10
}

type groupKey struct {
	name     string
	category string
}

// Summarize groups scored records by exact (subjectName, subjectCategory) and
// returns one Summary per group, highest average first. Groups with equal
// averages keep the order in which they were first seen.
//
// Records without a score are ignored, so Count always equals len(Records)
// and a group made only of unscored records yields no summary.
func Summarize(records []models.Record) []Summary {
	index := make(map[groupKey]int)
	var out []Summary
	sums := make([]int, 0)

	for _, r := range records {
		if !r.HasScore() {
			continue
		}
		k := groupKey{name: r.SubjectName, category: r.SubjectCategory}
		i, ok := index[k]
		if !ok {
			i = len(out)
			index[k] = i
			out = append(out, Summary{
				SubjectName:     r.SubjectName,
				SubjectCategory: r.SubjectCategory,
			})
			sums = append(sums, 0)
		}
		out[i].Count++
		out[i].Records = append(out[i].Records, r)
		sums[i] += r.ScoreValue()
	}

	for i := range out {
		out[i].AverageScore = float64(sums[i]) / float64(out[i].Count)
	}

	sort.SliceStable(out, func(a, b int) bool {
		return out[a].AverageScore > out[b].AverageScore
	})
	return out
}

// SortNewestFirst orders records by creation time, newest first, with the id
// as a tiebreak so the order is total. The input slice is not modified.
func SortNewestFirst(records []models.Record) []models.Record {
	out := make([]models.Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].CreatedAtMillis != out[b].CreatedAtMillis {
			return out[a].CreatedAtMillis > out[b].CreatedAtMillis
		}
		return out[a].ID > out[b].ID
	})
	return out
}
