package recordstore

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/starford/duetology/internal/models"
)

// Fixtures is the YAML layout accepted by Seed.
//
//	teacher-ratings:
//	  - id: r1
//	    subjectName: Dr. Lee
//	    subjectCategory: Mathematics
//	    score: 5
//	    text: ...
//	confessions:
//	  - text: ...
type Fixtures map[string][]models.Record

// LoadFixtures reads a fixture file.
func LoadFixtures(path string) (Fixtures, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("recordstore: read fixtures: %w", err)
	}
	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("recordstore: parse fixtures: %w", err)
	}
	return f, nil
}

// Seed imports every collection of f and returns the inserted count per collection.
func (db *DB) Seed(ctx context.Context, f Fixtures) (map[string]int, error) {
	out := make(map[string]int, len(f))
	for collection, recs := range f {
		n, err := db.Import(ctx, collection, recs)
		if err != nil {
			return out, fmt.Errorf("recordstore: seed %s: %w", collection, err)
		}
		out[collection] = n
	}
	return out, nil
}
