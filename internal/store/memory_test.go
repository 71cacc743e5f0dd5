package store

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/claimsight/cohortctl/internal/match"
	"github.com/claimsight/cohortctl/internal/model"
)

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func claim(id, member, date string, ct model.ClaimType) model.ClaimEntry {
	return model.ClaimEntry{ClaimID: id, MemberID: member, ServiceDate: day(date), ClaimType: ct}
}

func fixtureStore() *Memory {
	claims := []model.ClaimEntry{
		claim("c1", "m1", "2024-01-10", model.ClaimTypeMedical),
		claim("c2", "m1", "2024-02-20", model.ClaimTypeMedical),
		claim("c3", "m2", "2024-01-15", model.ClaimTypeMedical),
		claim("c4", "m2", "2024-03-01", model.ClaimTypePharmacy),
		claim("c5", "m3", "2023-11-05", model.ClaimTypeMedical),
	}
	diagnoses := []model.Diagnosis{
		{ClaimID: "c1", Code: "E11.9"},
		{ClaimID: "c2", Code: "E11.65"},
		{ClaimID: "c3", Code: "I10"},
		{ClaimID: "c5", Code: "E11.9"},
	}
	procedures := []model.Procedure{
		{ClaimID: "c2", Code: "99213"},
	}
	drugs := []model.DrugClaim{
		{ClaimID: "c4", ProductName: "Metformin HCL"},
	}
	members := []model.Member{
		{MemberID: "m1", FirstName: "Ada"},
		{MemberID: "m2", FirstName: "Ben"},
	}
	return NewMemory(claims, diagnoses, procedures, drugs, members)
}

func TestDiagnosisClaimsPrefixAndWindow(t *testing.T) {
	st := fixtureStore()
	ctx := context.Background()

	rows, err := st.DiagnosisClaims(ctx, match.MustCompile("E11.*"), nil, model.Window{})
	if err != nil {
		t.Fatalf("DiagnosisClaims: %v", err)
	}
	got := memberIDs(rows)
	want := []string{"m1", "m1", "m3"}
	if !equalStrings(got, want) {
		t.Errorf("members = %v, want %v", got, want)
	}

	// Window excludes m3's 2023 claim.
	w := model.Window{Start: day("2024-01-01"), End: day("2024-12-31")}
	rows, err = st.DiagnosisClaims(ctx, match.MustCompile("E11.*"), nil, w)
	if err != nil {
		t.Fatalf("DiagnosisClaims: %v", err)
	}
	if got := memberIDs(rows); !equalStrings(got, []string{"m1", "m1"}) {
		t.Errorf("windowed members = %v, want [m1 m1]", got)
	}
}

func TestDiagnosisClaimsOneRowPerClaim(t *testing.T) {
	// Two distinct same-day claims stay two rows; one claim carrying
	// two matching codes stays one row. The temporal qualifier counts
	// claims, so neither side may collapse or fan out.
	claims := []model.ClaimEntry{
		claim("c1", "m1", "2024-01-10", model.ClaimTypeMedical),
		claim("c2", "m1", "2024-01-10", model.ClaimTypeMedical),
		claim("c3", "m2", "2024-02-01", model.ClaimTypeMedical),
	}
	diagnoses := []model.Diagnosis{
		{ClaimID: "c1", Code: "E11.9"},
		{ClaimID: "c2", Code: "E11.65"},
		{ClaimID: "c3", Code: "E11.9"},
		{ClaimID: "c3", Code: "E11.65"},
	}
	st := NewMemory(claims, diagnoses, nil, nil, nil)

	rows, err := st.DiagnosisClaims(context.Background(), match.MustCompile("E11.*"), nil, model.Window{})
	if err != nil {
		t.Fatalf("DiagnosisClaims: %v", err)
	}
	got := memberIDs(rows)
	want := []string{"m1", "m1", "m2"}
	if !equalStrings(got, want) {
		t.Errorf("members = %v, want %v", got, want)
	}
}

func TestDiagnosisClaimsClaimTypeFilter(t *testing.T) {
	st := fixtureStore()
	rows, err := st.DiagnosisClaims(context.Background(), nil, []model.ClaimType{model.ClaimTypePharmacy}, model.Window{})
	if err != nil {
		t.Fatalf("DiagnosisClaims: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("no pharmacy claim carries a diagnosis, got %v", rows)
	}
}

func TestDiagnosisDatesForIgnoresWindow(t *testing.T) {
	st := fixtureStore()
	rows, err := st.DiagnosisDatesFor(context.Background(), []string{"m3"}, match.MustCompile("E11.*"))
	if err != nil {
		t.Fatalf("DiagnosisDatesFor: %v", err)
	}
	if len(rows) != 1 || !rows[0].ServiceDate.Equal(day("2023-11-05")) {
		t.Errorf("expected full-history date for m3, got %v", rows)
	}
}

func TestMembersWithProcedure(t *testing.T) {
	st := fixtureStore()
	set, err := st.MembersWithProcedure(context.Background(), []string{"m1", "m2"}, match.MustCompile("99213"), model.Window{})
	if err != nil {
		t.Fatalf("MembersWithProcedure: %v", err)
	}
	if !set.Has("m1") || set.Has("m2") {
		t.Errorf("set = %v, want only m1", set)
	}
}

func TestMembersWithMedicationExactName(t *testing.T) {
	st := fixtureStore()
	ctx := context.Background()

	set, err := st.MembersWithMedication(ctx, []string{"m1", "m2"}, match.NewNameSet([]string{"metformin hcl"}), model.Window{})
	if err != nil {
		t.Fatalf("MembersWithMedication: %v", err)
	}
	if !set.Has("m2") || set.Has("m1") {
		t.Errorf("set = %v, want only m2", set)
	}

	// Partial product names never match.
	set, err = st.MembersWithMedication(ctx, []string{"m2"}, match.NewNameSet([]string{"metformin"}), model.Window{})
	if err != nil {
		t.Fatalf("MembersWithMedication: %v", err)
	}
	if len(set) != 0 {
		t.Errorf("partial name matched: %v", set)
	}
}

func TestMembersReturnsOnlyKnown(t *testing.T) {
	st := fixtureStore()
	rows, err := st.Members(context.Background(), []string{"m1", "ghost"})
	if err != nil {
		t.Fatalf("Members: %v", err)
	}
	if len(rows) != 1 || rows[0].MemberID != "m1" {
		t.Errorf("rows = %v, want only m1", rows)
	}
}

func TestLatestServiceDate(t *testing.T) {
	st := fixtureStore()
	latest, err := st.LatestServiceDate(context.Background())
	if err != nil {
		t.Fatalf("LatestServiceDate: %v", err)
	}
	if !latest.Equal(day("2024-03-01")) {
		t.Errorf("latest = %v, want 2024-03-01", latest)
	}

	empty := NewMemory(nil, nil, nil, nil, nil)
	if _, err := empty.LatestServiceDate(context.Background()); err == nil {
		t.Fatal("empty store should report a data gap")
	} else if _, ok := err.(*DataGapError); !ok {
		t.Fatalf("error type = %T, want *DataGapError", err)
	}
}

func TestHasAxisData(t *testing.T) {
	st := fixtureStore()
	if ok, _ := st.HasProcedureData(context.Background()); !ok {
		t.Error("procedure rows present but reported absent")
	}

	bare := NewMemory(nil, nil, nil, nil, nil)
	if ok, _ := bare.HasMedicationData(context.Background()); ok {
		t.Error("empty drug relation reported present")
	}
}

func memberIDs(rows []model.MemberDate) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.MemberID
	}
	sort.Strings(out)
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
