package datafetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

const FixtureSourceName = "fixture"

var ErrInvalidFixture = errors.New("invalid opportunity fixture")

// FixtureSource serves recorded opportunities from a JSON file. Every record it returns is
// marked Simulated, so it is only ever wired as the aggregator's explicit fallback.
type FixtureSource struct {
	path string
}

func NewFixtureSource(path string) *FixtureSource {
	return &FixtureSource{path: path}
}

func (s *FixtureSource) Name() string {
	return FixtureSourceName
}

func (s *FixtureSource) Fetch(ctx context.Context) ([]RawOpportunity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	records, err := LoadRawOpportunities(s.path)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Simulated = true
		records[i].Source = FixtureSourceName
	}
	return records, nil
}

// LoadRawOpportunities reads a JSON array of raw records from path.
func LoadRawOpportunities(path string) ([]RawOpportunity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(ErrInvalidFixture, fmt.Errorf("failed to read %s: %w", path, err))
	}
	var records []RawOpportunity
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, errors.Join(ErrInvalidFixture, fmt.Errorf("failed to parse %s: %w", path, err))
	}
	return records, nil
}
