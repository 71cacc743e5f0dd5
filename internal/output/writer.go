// Package output writes run artifacts: per-cohort result files with
// metadata sidecars, the combined demographic-enriched table, and the
// run metadata document. Formats: csv, json, parquet.
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/claimsight/cohortctl/internal/model"
)

const dateLayout = "2006-01-02"

// Format selects the per-cohort file format.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatJSON    Format = "json"
	FormatParquet Format = "parquet"
)

// ParseFormat validates a format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatParquet:
		return Format(s), nil
	case "":
		return FormatParquet, nil
	default:
		return "", fmt.Errorf("unknown output format %q (expected csv, json or parquet)", s)
	}
}

// Writer writes run artifacts into one output directory.
type Writer struct {
	dir    string
	format Format
}

// NewWriter creates a writer rooted at dir, creating it if needed.
func NewWriter(dir string, format Format) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}
	return &Writer{dir: dir, format: format}, nil
}

// Dir returns the output directory.
func (w *Writer) Dir() string { return w.dir }

// cohortFileRow is the flat per-cohort output schema. Dates are
// rendered as ISO strings so every format round-trips identically.
type cohortFileRow struct {
	MemberID  string `csv:"member_id" json:"member_id" parquet:"member_id"`
	IndexDate string `csv:"index_date" json:"index_date" parquet:"index_date"`
	Cohort    string `csv:"cohort" json:"cohort" parquet:"cohort"`
}

// WriteCohort writes one cohort's rows plus its metadata sidecar and
// returns the data file path.
func (w *Writer) WriteCohort(res *model.CohortResult, meta model.CohortMeta) (string, error) {
	rows := make([]cohortFileRow, len(res.Rows))
	for i, r := range res.Rows {
		rows[i] = cohortFileRow{
			MemberID:  r.MemberID,
			IndexDate: r.IndexDate.Format(dateLayout),
			Cohort:    r.Cohort,
		}
	}

	path := filepath.Join(w.dir, res.Cohort+"."+string(w.format))
	var err error
	switch w.format {
	case FormatCSV:
		err = w.writeCohortCSV(path, res, rows)
	case FormatJSON:
		err = writeJSON(path, res.Rows)
	default:
		err = writeParquet(path, rows)
	}
	if err != nil {
		return "", fmt.Errorf("write cohort %s: %w", res.Cohort, err)
	}

	metaPath := filepath.Join(w.dir, res.Cohort+"_metadata.json")
	if err := writeJSON(metaPath, meta); err != nil {
		return "", fmt.Errorf("write cohort %s metadata: %w", res.Cohort, err)
	}
	return path, nil
}

func (w *Writer) writeCohortCSV(path string, res *model.CohortResult, rows []cohortFileRow) error {
	// Tag columns only exist in CSV output; parquet and JSON keep the
	// flat schema (tags live in the JSON rows themselves).
	tagNames := collectTagNames(res)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := []string{"member_id", "index_date", "cohort"}
	header = append(header, tagNames...)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, row := range rows {
		rec := []string{row.MemberID, row.IndexDate, row.Cohort}
		for _, tag := range tagNames {
			rec = append(rec, fmt.Sprintf("%t", res.Rows[i].Tags[tag]))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCombined writes the cross-cohort table as CSV and returns its
// path. CSV is the fixed format here: the combined table is the
// hand-off artifact for downstream validation.
func (w *Writer) WriteCombined(rows []model.CombinedRow) (string, error) {
	path := filepath.Join(w.dir, "combined_cohorts.csv")
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("write combined table: %w", err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	header := []string{"member_id", "index_date", "cohort", "first_name", "last_name", "date_of_birth", "gender", "external_user_id"}
	if err := cw.Write(header); err != nil {
		return "", err
	}
	for _, r := range rows {
		rec := []string{
			r.MemberID,
			r.IndexDate.Format(dateLayout),
			r.Cohort,
			r.FirstName,
			r.LastName,
			r.DateOfBirth,
			r.Gender,
			r.ExternalUserID,
		}
		if err := cw.Write(rec); err != nil {
			return "", err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("write combined table: %w", err)
	}
	return path, nil
}

// WriteRunMeta writes the run-level metadata document.
func (w *Writer) WriteRunMeta(report *model.RunReport) (string, error) {
	path := filepath.Join(w.dir, "combined_cohorts_metadata.json")
	if err := writeJSON(path, report); err != nil {
		return "", fmt.Errorf("write run metadata: %w", err)
	}
	return path, nil
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeParquet(path string, rows []cohortFileRow) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	pw := parquet.NewGenericWriter[cohortFileRow](f)
	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			f.Close()
			return err
		}
	}
	if err := pw.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func collectTagNames(res *model.CohortResult) []string {
	seen := make(map[string]struct{})
	for _, r := range res.Rows {
		for tag := range r.Tags {
			seen[tag] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for tag := range seen {
		names = append(names, tag)
	}
	sort.Strings(names)
	return names
}
