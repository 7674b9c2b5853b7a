package track

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/yegors/airportguess/pkg/logger"
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrMalformedRow  = errors.New("malformed track row")
)

// Column identifies a logical track column
type Column string

const (
	ColTime         Column = "time"
	ColCallsign     Column = "callsign"
	ColLatitude     Column = "latitude"
	ColLongitude    Column = "longitude"
	ColAltitude     Column = "altitude"
	ColAircraftType Column = "type"
)

// RequiredColumns must be present in every track source
var RequiredColumns = []Column{ColTime, ColCallsign, ColLatitude, ColLongitude, ColAltitude}

// CARATS trk files carry no header: time, callsign, latitude, longitude, altitude, type
var caratsLayout = map[Column]int{
	ColTime:         0,
	ColCallsign:     1,
	ColLatitude:     2,
	ColLongitude:    3,
	ColAltitude:     4,
	ColAircraftType: 5,
}

var columnAliases = map[string]Column{
	"time":          ColTime,
	"timestamp":     ColTime,
	"datetime":      ColTime,
	"callsign":      ColCallsign,
	"flight":        ColCallsign,
	"latitude":      ColLatitude,
	"lat":           ColLatitude,
	"longitude":     ColLongitude,
	"lon":           ColLongitude,
	"lng":           ColLongitude,
	"altitude":      ColAltitude,
	"alt":           ColAltitude,
	"alt_baro":      ColAltitude,
	"type":          ColAircraftType,
	"aircraft_type": ColAircraftType,
}

var reTrkDate = regexp.MustCompile(`trk(\d{8})`)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

var timeOfDayLayouts = []string{
	"15:04:05.999999999",
	"15:04:05",
	"15:04",
}

// Reader loads track files into raw rows
type Reader struct {
	logger *logger.Logger
}

// NewReader creates a new track file reader
func NewReader(log *logger.Logger) *Reader {
	if log == nil {
		log = logger.NewNop()
	}
	return &Reader{logger: log.Named("track-reader")}
}

// ReadFiles reads every path in order and concatenates the rows. Seq numbers run across
// files so the combined slice keeps a single input order.
func (r *Reader) ReadFiles(ctx context.Context, paths []string) ([]RawRow, error) {
	rows := make([]RawRow, 0)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		fileRows, err := r.ReadFile(path)
		if err != nil {
			return nil, err
		}
		for i := range fileRows {
			fileRows[i].Seq = len(rows) + i
		}
		rows = append(rows, fileRows...)

		r.logger.Debug("Read track file",
			logger.String("path", path),
			logger.Int("rows", len(fileRows)),
			logger.Duration("duration", time.Since(start)))
	}

	r.logger.Info("Loaded track rows",
		logger.Int("files", len(paths)),
		logger.Int("rows", len(rows)))

	return rows, nil
}

// ReadFile reads a single track file. Files ending in .zst are zstd-decompressed.
func (r *Reader) ReadFile(path string) ([]RawRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track file: %w", err)
	}
	defer file.Close()

	var src io.Reader = file
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(file)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to open zstd stream: %w", path, err)
		}
		defer zr.Close()
		src = zr
	}

	return ReadCSV(src, path, DateFromFilename(path))
}

// DateFromFilename extracts the date from names like trk20190816_00_12.csv. It returns the
// zero time when the name carries no date.
func DateFromFilename(path string) time.Time {
	m := reTrkDate.FindStringSubmatch(filepath.Base(path))
	if m == nil {
		return time.Time{}
	}
	d, err := time.Parse("20060102", m[1])
	if err != nil {
		return time.Time{}
	}
	return d
}

// ReadCSV parses track rows from r. A first row naming the columns is treated as a header;
// otherwise the CARATS positional layout is assumed. baseDate anchors time-of-day values.
func ReadCSV(r io.Reader, source string, baseDate time.Time) ([]RawRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows := make([]RawRow, 0)

	first, err := cr.Read()
	if err == io.EOF {
		return rows, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", source, err)
	}

	layout, isHeader := headerLayout(first)
	if !isHeader {
		layout = caratsLayout
	}
	if missing := missingColumns(layout, len(first)); len(missing) > 0 {
		return nil, fmt.Errorf("%s: %w: %s", source, ErrMissingColumn, strings.Join(missing, ", "))
	}

	line := 1
	parse := func(record []string) error {
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			return nil
		}
		row, err := parseRecord(record, layout, baseDate)
		if err != nil {
			return fmt.Errorf("%s line %d: %w", source, line, err)
		}
		row.Source = source
		row.Line = line
		row.Seq = len(rows)
		rows = append(rows, row)
		return nil
	}

	if !isHeader {
		if err := parse(first); err != nil {
			return nil, err
		}
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", source, line, err)
		}
		if err := parse(record); err != nil {
			return nil, err
		}
	}

	return rows, nil
}

// headerLayout maps header names onto columns. The row counts as a header when it names a
// callsign column.
func headerLayout(record []string) (map[Column]int, bool) {
	layout := make(map[Column]int)
	for i, name := range record {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if col, ok := columnAliases[key]; ok {
			if _, seen := layout[col]; !seen {
				layout[col] = i
			}
		}
	}
	_, ok := layout[ColCallsign]
	return layout, ok
}

func missingColumns(layout map[Column]int, width int) []string {
	var missing []string
	for _, col := range RequiredColumns {
		idx, ok := layout[col]
		if !ok || idx >= width {
			missing = append(missing, string(col))
		}
	}
	return missing
}

func parseRecord(record []string, layout map[Column]int, baseDate time.Time) (RawRow, error) {
	get := func(col Column) string {
		idx, ok := layout[col]
		if !ok || idx >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[idx])
	}

	var row RawRow
	row.Callsign = get(ColCallsign)
	row.AircraftType = get(ColAircraftType)

	ts, err := parseTimestamp(get(ColTime), baseDate)
	if err != nil {
		return RawRow{}, err
	}
	row.Timestamp = ts

	if row.Latitude, err = parseOptionalFloat(get(ColLatitude), "latitude"); err != nil {
		return RawRow{}, err
	}
	if row.Longitude, err = parseOptionalFloat(get(ColLongitude), "longitude"); err != nil {
		return RawRow{}, err
	}
	if row.Altitude, err = parseOptionalFloat(get(ColAltitude), "altitude"); err != nil {
		return RawRow{}, err
	}

	return row, nil
}

func parseOptionalFloat(s, name string) (*float64, error) {
	if s == "" || strings.EqualFold(s, "nan") || strings.EqualFold(s, "null") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid %s %q", ErrMalformedRow, name, s)
	}
	return &v, nil
}

func parseTimestamp(s string, baseDate time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty time", ErrMalformedRow)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range timeOfDayLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			offset := time.Duration(t.Hour())*time.Hour +
				time.Duration(t.Minute())*time.Minute +
				time.Duration(t.Second())*time.Second +
				time.Duration(t.Nanosecond())
			return baseDate.Add(offset), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: invalid time %q", ErrMalformedRow, s)
}
