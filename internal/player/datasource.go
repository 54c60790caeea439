// internal/player/datasource.go
package player

import (
	"encoding/csv"
	"fmt"
	"os"
	"strings"
)

// CSVSource feeds !COLn placeholders from a CSV file. The current row
// advances once per play loop, so each iteration processes one record.
type CSVSource struct {
	rows [][]string
	row  int
}

// LoadCSV reads a data source from disk.
func LoadCSV(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data source: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse data source %s: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("data source %s is empty", path)
	}
	return &CSVSource{rows: rows}, nil
}

// ParseCSV reads a data source from a string, for embedded data.
func ParseCSV(content string) (*CSVSource, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse data source: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("data source is empty")
	}
	return &CSVSource{rows: rows}, nil
}

// Column returns the n-th (1-based) column of the current row.
func (s *CSVSource) Column(n int) (string, error) {
	row := s.rows[s.row]
	if n < 1 || n > len(row) {
		return "", fmt.Errorf("row %d has no column %d", s.row+1, n)
	}
	return row[n-1], nil
}

// Advance moves to the next row, wrapping to the first when exhausted.
func (s *CSVSource) Advance() {
	s.row = (s.row + 1) % len(s.rows)
}

// Rows reports the number of records.
func (s *CSVSource) Rows() int { return len(s.rows) }
