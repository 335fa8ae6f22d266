package storage

import (
	"fmt"
	"path"
	"regexp"
	"time"

	"github.com/google/uuid"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildArchivePath lays archives out by case and UTC day:
// case=<case>/date=YYYY-MM-DD/run-<run id>.zip.
func BuildArchivePath(caseID, runID string, finishedAt time.Time) (string, error) {
	if err := validatePathComponent(caseID, "case id"); err != nil {
		return "", err
	}
	if _, err := uuid.Parse(runID); err != nil {
		return "", fmt.Errorf("invalid run id %q: %w", runID, err)
	}

	ts := finishedAt.UTC()
	return path.Join(
		"case="+caseID,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("run-%s.zip", runID),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || value == "." || value == ".." {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
