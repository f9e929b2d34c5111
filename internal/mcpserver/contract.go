package mcpserver

import (
	"fmt"
	"strings"

	"github.com/starford/duetology/internal/models"
)

// SubmissionRules describes what a valid submission looks like, for LLM
// consumers calling submit_rating or submit_confession.
var SubmissionRules = fmt.Sprintf(`# Duetology Submission Rules

Submissions are anonymous. Never put a student's name or contact details in any field.

## Teacher ratings (collection %[1]q)

- teacherName: required, 1-100 characters.
- department: required, 1-100 characters. Summaries group by the exact
  (teacherName, department) pair, so reuse the spelling already in use.
- stars: required, integer %[2]d-%[3]d.
- review: required, 20-1500 characters.

## Confessions (collection %[4]q)

- category: one of %[5]s. Defaults to %[6]q.
- text: required, 10-1000 characters.

## Votes

Each client may mark a rating helpful or like a confession once. Vote counts
only ever go up.
`,
	models.CollectionRatings, models.MinScore, models.MaxScore,
	models.CollectionConfessions,
	strings.Join(models.ConfessionCategories, ", "), models.DefaultConfessionCategory,
)
