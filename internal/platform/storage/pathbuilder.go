package storage

import (
	"fmt"
	"strings"
	"time"
)

// ExportPathParams provide the identifiers used to compose export object keys.
type ExportPathParams struct {
	Kind        string
	GeneratedAt time.Time
}

// BuildExportObjectPath resolves the storage object path for a generated workbook.
// Paths are grouped by calendar day so that lifecycle rules can expire old exports.
func BuildExportObjectPath(params ExportPathParams) (string, error) {
	kind, err := validateSegment("kind", params.Kind)
	if err != nil {
		return "", err
	}
	if params.GeneratedAt.IsZero() {
		return "", fmt.Errorf("storage: generatedAt is required")
	}
	ts := params.GeneratedAt.UTC()
	return fmt.Sprintf("exports/%s/%s-%s.xlsx",
		ts.Format("2006-01-02"),
		kind,
		ts.Format("20060102-150405"),
	), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}
