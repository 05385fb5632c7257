package roster

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const header = "Client,Contact,NextHearingDate,Category,TypRnRy,Parties\n"

func writeDataset(t *testing.T, body string, age time.Duration) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clients.csv")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write dataset: %v", err)
	}
	mtime := time.Now().Add(-age)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return path
}

func newLoader() *Loader {
	return &Loader{
		MaxAge:        48 * time.Hour,
		WarningAge:    24 * time.Hour,
		DefaultRegion: "IN",
	}
}

func TestLoad(t *testing.T) {
	body := header +
		"Asha Verma,+919876543210,2025-09-07,Active,Civil Appeal 12/2024,Verma vs State\n" +
		"Rohan Mehta,98222 11000,2025-09-07,Inactive,Criminal Rev 4/2023,Mehta vs Kulkarni\n"
	path := writeDataset(t, body, time.Hour)

	records, invalid, err := newLoader().Load(path, time.Now())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(invalid) != 0 {
		t.Fatalf("expected no invalid rows, got %v", invalid)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	if records[0].Contact != "919876543210" {
		t.Errorf("contact with + should normalize to digits, got %s", records[0].Contact)
	}
	if records[1].Contact != "919822211000" {
		t.Errorf("local contact should gain country code, got %s", records[1].Contact)
	}
	if records[0].NextHearingDate.Format(DateLayout) != "2025-09-07" {
		t.Errorf("bad date: %v", records[0].NextHearingDate)
	}
	if records[0].Row != 1 || records[1].Row != 2 {
		t.Error("rows must preserve file order and numbering")
	}
	if records[0].CaseType != "Civil Appeal 12/2024" {
		t.Errorf("TypRnRy not mapped: %s", records[0].CaseType)
	}
}

func TestLoad_StaleData(t *testing.T) {
	path := writeDataset(t, header, 72*time.Hour)

	_, _, err := newLoader().Load(path, time.Now())
	var stale *StaleDataError
	if !errors.As(err, &stale) {
		t.Fatalf("expected *StaleDataError, got %v", err)
	}
	if stale.MaxAge != 48*time.Hour {
		t.Errorf("unexpected MaxAge: %v", stale.MaxAge)
	}
}

func TestLoad_MissingColumns(t *testing.T) {
	path := writeDataset(t, "Client,Contact,Category\nA,+919876543210,Active\n", time.Hour)

	_, _, err := newLoader().Load(path, time.Now())
	var schema *SchemaError
	if !errors.As(err, &schema) {
		t.Fatalf("expected *SchemaError, got %v", err)
	}
	if len(schema.Missing) != 3 {
		t.Errorf("expected 3 missing columns, got %v", schema.Missing)
	}
}

func TestLoad_MalformedDateExcluded(t *testing.T) {
	body := header +
		"Asha Verma,+919876543210,2025-13-40,Active,CA 12/2024,Verma vs State\n" +
		"Rohan Mehta,+919822211000,2025-09-07,Active,CR 4/2023,Mehta vs Kulkarni\n"
	path := writeDataset(t, body, time.Hour)

	records, invalid, err := newLoader().Load(path, time.Now())
	if err != nil {
		t.Fatalf("per-row failures must not be fatal: %v", err)
	}
	if len(records) != 1 || records[0].Client != "Rohan Mehta" {
		t.Fatalf("valid row should survive, got %v", records)
	}
	if len(invalid) != 1 {
		t.Fatalf("expected 1 invalid row, got %d", len(invalid))
	}
	if invalid[0].Row != 1 || invalid[0].Client != "Asha Verma" {
		t.Errorf("invalid row misattributed: %+v", invalid[0])
	}
}

func TestLoad_BadContactExcluded(t *testing.T) {
	body := header +
		"No Phone,,2025-09-07,Active,CA 1/2024,A vs B\n" +
		"Bad Phone,12,2025-09-07,Active,CA 2/2024,C vs D\n" +
		"Good,+919876543210,2025-09-07,Active,CA 3/2024,E vs F\n"
	path := writeDataset(t, body, time.Hour)

	records, invalid, err := newLoader().Load(path, time.Now())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if len(invalid) != 2 {
		t.Fatalf("expected 2 invalid rows, got %d", len(invalid))
	}
}

func TestNormalizeContact(t *testing.T) {
	cases := []struct {
		in, region, want string
		wantErr          bool
	}{
		{"+91 98765 43210", "IN", "919876543210", false},
		{"9876543210", "IN", "919876543210", false},
		{"(982) 221-1000", "IN", "919822211000", false},
		{"+14155552671", "IN", "14155552671", false},
		{"12", "IN", "", true},
		{"not-a-number", "IN", "", true},
	}
	for _, tc := range cases {
		got, err := NormalizeContact(tc.in, tc.region)
		if tc.wantErr {
			if err == nil {
				t.Errorf("NormalizeContact(%q) expected error, got %q", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeContact(%q) failed: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("NormalizeContact(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
