package api

import (
	"github.com/starford/duetology/internal/aggregate"
	"github.com/starford/duetology/internal/models"
)

// SubmitRequest is the request body for creating a record. Server-owned
// fields (id, createdAtMillis, voteCount) are not accepted.
type SubmitRequest struct {
	SubjectName     string `json:"subjectName" example:"Dr. Lee"`
	SubjectCategory string `json:"subjectCategory" example:"Mathematics"`
	Score           *int   `json:"score,omitempty" example:"5"`
	Text            string `json:"text" example:"Explains every proof step by step."`
}

func (r SubmitRequest) record() models.Record {
	return models.Record{
		SubjectName:     r.SubjectName,
		SubjectCategory: r.SubjectCategory,
		Score:           r.Score,
		Text:            r.Text,
	}
}

// ListResponse is a (possibly filtered) collection snapshot.
type ListResponse struct {
	models.Snapshot
	Total int `json:"total"`
}

// SummaryItem is one per-teacher summary with its display average.
type SummaryItem struct {
	aggregate.Summary
	AverageRounded float64 `json:"averageRounded"`
}

// SummaryResponse wraps the summaries.
type SummaryResponse struct {
	Summaries []SummaryItem `json:"summaries"`
}

// IncrementResponse reports the new counter after an increment or vote.
type IncrementResponse struct {
	ID        string `json:"id"`
	VoteCount int64  `json:"voteCount"`
}

// VotesResponse lists the record ids a device already voted on.
type VotesResponse struct {
	Collection string   `json:"collection"`
	Voted      []string `json:"voted"`
}
