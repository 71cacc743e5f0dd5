package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/claimsight/cohortctl/internal/model"
)

// Relation file names expected inside a claims directory. Column
// names follow the source dataset's schema.
const (
	fileClaims     = "claims_entries.csv"
	fileDiagnoses  = "claims_diagnoses.csv"
	fileProcedures = "claims_procedures.csv"
	fileDrugs      = "claims_drugs.csv"
	fileMembers    = "members.csv"
)

// LoadCSVDir reads the five relations from dir into a Memory store.
// claims_entries and claims_diagnoses are required; procedure, drug
// and member files are optional (their axes simply have no data).
func LoadCSVDir(dir string) (*Memory, error) {
	claims, err := loadClaims(filepath.Join(dir, fileClaims))
	if err != nil {
		return nil, err
	}
	diagnoses, err := loadCodes(filepath.Join(dir, fileDiagnoses), "icd_code", false)
	if err != nil {
		return nil, err
	}
	procedures, err := loadCodes(filepath.Join(dir, fileProcedures), "proc_code", true)
	if err != nil {
		return nil, err
	}
	drugs, err := loadCodes(filepath.Join(dir, fileDrugs), "product_service_name", true)
	if err != nil {
		return nil, err
	}
	members, err := loadMembers(filepath.Join(dir, fileMembers))
	if err != nil {
		return nil, err
	}

	diags := make([]model.Diagnosis, len(diagnoses))
	for i, r := range diagnoses {
		diags[i] = model.Diagnosis{ClaimID: r[0], Code: r[1]}
	}
	procs := make([]model.Procedure, len(procedures))
	for i, r := range procedures {
		procs[i] = model.Procedure{ClaimID: r[0], Code: r[1]}
	}
	drugRows := make([]model.DrugClaim, len(drugs))
	for i, r := range drugs {
		drugRows[i] = model.DrugClaim{ClaimID: r[0], ProductName: r[1]}
	}

	return NewMemory(claims, diags, procs, drugRows, members), nil
}

func openTable(path string) (*csv.Reader, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	return r, f.Close, nil
}

// headerIndex maps column names to positions, case-insensitive.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func field(rec []string, idx map[string]int, name string) string {
	i, ok := idx[name]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", s)
}

func loadClaims(path string) ([]model.ClaimEntry, error) {
	r, closeFn, err := openTable(path)
	if err != nil {
		return nil, fmt.Errorf("claims entries: %w", err)
	}
	defer closeFn()

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("claims entries header: %w", err)
	}
	idx := headerIndex(header)

	var out []model.ClaimEntry
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("claims entries row %d: %w", len(out)+2, err)
		}
		date, err := parseDate(field(rec, idx, "date_of_service"))
		if err != nil {
			return nil, fmt.Errorf("claims entries row %d: %w", len(out)+2, err)
		}
		out = append(out, model.ClaimEntry{
			ClaimID:     field(rec, idx, "claim_entry_id"),
			MemberID:    field(rec, idx, "member_id_hash"),
			ServiceDate: date,
			ClaimType:   model.ClaimType(strings.ToLower(field(rec, idx, "claim_type"))),
		})
	}
	return out, nil
}

// loadCodes reads a two-column (claim id, code) relation. Optional
// relations yield no rows when the file is absent.
func loadCodes(path, codeColumn string, optional bool) ([][2]string, error) {
	r, closeFn, err := openTable(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	defer closeFn()

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s header: %w", filepath.Base(path), err)
	}
	idx := headerIndex(header)

	var out [][2]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s row %d: %w", filepath.Base(path), len(out)+2, err)
		}
		code := field(rec, idx, codeColumn)
		if code == "" {
			continue
		}
		out = append(out, [2]string{field(rec, idx, "claim_entry_id"), code})
	}
	return out, nil
}

func loadMembers(path string) ([]model.Member, error) {
	r, closeFn, err := openTable(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("members: %w", err)
	}
	defer closeFn()

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("members header: %w", err)
	}
	idx := headerIndex(header)

	var out []model.Member
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("members row %d: %w", len(out)+2, err)
		}
		m := model.Member{
			MemberID:       field(rec, idx, "member_id_hash"),
			FirstName:      field(rec, idx, "first_name"),
			LastName:       field(rec, idx, "last_name"),
			Gender:         field(rec, idx, "gender"),
			ExternalUserID: field(rec, idx, "external_user_id"),
		}
		m.DateOfBirth = optionalDate(field(rec, idx, "date_of_birth"))
		m.EnrollmentDate = optionalDate(field(rec, idx, "date_of_enrollment"))
		m.TerminationDate = optionalDate(field(rec, idx, "termination_date"))
		out = append(out, m)
	}
	return out, nil
}

func optionalDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	if t, err := parseDate(s); err == nil {
		return &t
	}
	return nil
}
