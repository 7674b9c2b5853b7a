package airports

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yegors/airportguess/pkg/logger"
)

// Parse reads a whitespace-delimited aerodrome file. Field 0 is the code, fields 2 and 3 are
// the latitude and longitude; field 1 is ignored. Blank lines and lines starting with '#'
// are skipped.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		// Tolerate a UTF-8 BOM on the first line
		if lineNo == 1 {
			line = strings.TrimPrefix(line, "\ufeff")
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 4 {
			return nil, fmt.Errorf("%w: line %d: expected at least 4 fields, got %d", ErrMalformedLine, lineNo, len(fields))
		}

		entries = append(entries, Entry{
			Code:      fields[0],
			Latitude:  fields[2],
			Longitude: fields[3],
			Line:      lineNo,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read airport records: %w", err)
	}

	return entries, nil
}

// LoadFile parses the aerodrome file at path and builds a catalog from it
func LoadFile(path string, opts Options, log *logger.Logger) (*Catalog, error) {
	if log == nil {
		log = logger.NewNop()
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open airport file: %w", err)
	}
	defer file.Close()

	entries, err := Parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	catalog, err := NewCatalog(entries, opts, log)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Info("Loaded airports",
		logger.String("path", path),
		logger.Int("records", len(entries)),
		logger.Int("airports", catalog.Len()))

	return catalog, nil
}
