// Package roster loads the client dataset from the delimited export the
// case-management system produces. Rows that fail validation (malformed
// hearing date, unparseable contact number) are excluded from the result
// but reported, never silently dropped.
package roster

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"
)

// RequiredColumns must all be present in the dataset header.
var RequiredColumns = []string{"Client", "Contact", "NextHearingDate", "Category", "TypRnRy", "Parties"}

// DateLayout is the expected hearing date format.
const DateLayout = "2006-01-02"

// Record is one validated row of the client dataset. Immutable after load.
type Record struct {
	Row             int    // 1-based data row number, for diagnostics
	Client          string
	Contact         string // E.164 digits without the leading +
	RawContact      string // contact as it appeared in the file
	NextHearingDate time.Time
	Category        string
	CaseType        string // the TypRnRy column
	Parties         string
}

// InvalidRow describes a data row excluded during validation. It surfaces
// in the run summary as a Skipped outcome.
type InvalidRow struct {
	Row     int
	Client  string
	Contact string
	Detail  string
}

// StaleDataError means the dataset file has not been refreshed within the
// configured window and the run must not proceed.
type StaleDataError struct {
	Path   string
	Age    time.Duration
	MaxAge time.Duration
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("roster: %s is %.1fh old (limit %.1fh); refresh the export before running",
		e.Path, e.Age.Hours(), e.MaxAge.Hours())
}

// SchemaError means the dataset header is missing required columns.
type SchemaError struct {
	Path    string
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("roster: %s is missing required columns: %s", e.Path, strings.Join(e.Missing, ", "))
}

// Loader reads and validates client datasets.
type Loader struct {
	MaxAge        time.Duration
	WarningAge    time.Duration
	DefaultRegion string // region for contact numbers without a leading +
	Log           *zap.Logger
}

// Load reads the dataset at path. Returned records preserve file order.
// Invalid rows are accumulated in the second return value; only
// file-level problems (missing file, staleness, schema) are errors.
func (l *Loader) Load(path string, now time.Time) ([]Record, []InvalidRow, error) {
	log := l.Log
	if log == nil {
		log = zap.NewNop()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("roster: stat dataset: %w", err)
	}
	age := now.Sub(info.ModTime())
	if l.MaxAge > 0 && age > l.MaxAge {
		return nil, nil, &StaleDataError{Path: path, Age: age, MaxAge: l.MaxAge}
	}
	if l.WarningAge > 0 && age > l.WarningAge {
		log.Warn("dataset is getting stale",
			zap.String("path", path),
			zap.Duration("age", age),
			zap.Duration("warn_after", l.WarningAge))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("roster: open dataset: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("roster: read header: %w", err)
	}
	idx, missing := columnIndex(header)
	if len(missing) > 0 {
		return nil, nil, &SchemaError{Path: path, Missing: missing}
	}

	var (
		records []Record
		invalid []InvalidRow
		rowNum  int
	)
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("roster: read row %d: %w", rowNum+1, err)
		}
		rowNum++

		rec, detail := l.buildRecord(rowNum, row, idx)
		if detail != "" {
			invalid = append(invalid, InvalidRow{
				Row:     rowNum,
				Client:  field(row, idx["Client"]),
				Contact: field(row, idx["Contact"]),
				Detail:  detail,
			})
			log.Warn("excluding invalid row",
				zap.Int("row", rowNum),
				zap.String("client", field(row, idx["Client"])),
				zap.String("detail", detail))
			continue
		}
		records = append(records, rec)
	}

	log.Info("dataset loaded",
		zap.String("path", path),
		zap.Int("records", len(records)),
		zap.Int("excluded", len(invalid)),
		zap.Time("modified", info.ModTime()))
	return records, invalid, nil
}

func (l *Loader) buildRecord(rowNum int, row []string, idx map[string]int) (Record, string) {
	rawContact := strings.TrimSpace(field(row, idx["Contact"]))
	rawDate := strings.TrimSpace(field(row, idx["NextHearingDate"]))

	if rawContact == "" {
		return Record{}, "contact number is empty"
	}
	contact, err := NormalizeContact(rawContact, l.DefaultRegion)
	if err != nil {
		return Record{}, fmt.Sprintf("unparseable contact number %q: %v", rawContact, err)
	}

	date, err := time.Parse(DateLayout, rawDate)
	if err != nil {
		return Record{}, fmt.Sprintf("malformed hearing date %q", rawDate)
	}

	return Record{
		Row:             rowNum,
		Client:          strings.TrimSpace(field(row, idx["Client"])),
		Contact:         contact,
		RawContact:      rawContact,
		NextHearingDate: date,
		Category:        strings.TrimSpace(field(row, idx["Category"])),
		CaseType:        strings.TrimSpace(field(row, idx["TypRnRy"])),
		Parties:         strings.TrimSpace(field(row, idx["Parties"])),
	}, ""
}

// NormalizeContact parses a phone number, with or without a leading +,
// into E.164 digits without the plus sign (the form the messaging URL
// expects). region supplies the country when no + prefix is present.
func NormalizeContact(raw, region string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' || r == '(' || r == ')' {
			return -1
		}
		return r
	}, raw)

	num, err := phonenumbers.Parse(cleaned, region)
	if err != nil {
		return "", err
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", fmt.Errorf("not a valid number for region %s", region)
	}
	return strings.TrimPrefix(phonenumbers.Format(num, phonenumbers.E164), "+"), nil
}

func columnIndex(header []string) (map[string]int, []string) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(name)] = i
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	return idx, missing
}

func field(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}
