package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/claimsight/cohortctl/internal/match"
	"github.com/claimsight/cohortctl/internal/model"
	"github.com/claimsight/cohortctl/internal/worker"
)

// Postgres is a Store backed by the claims warehouse schema. Every
// operation is a single set-based query; candidate lists travel as
// array parameters, never as per-member round trips. Queries are paced
// per relation through the shared limiter.
type Postgres struct {
	pool    *pgxpool.Pool
	limiter *worker.Limiter
	log     zerolog.Logger
}

// NewPostgres connects a pool to dsn and verifies it with a ping.
func NewPostgres(ctx context.Context, dsn string, limiter *worker.Limiter, log zerolog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{pool: pool, limiter: limiter, log: log}, nil
}

// Close releases the pool.
func (p *Postgres) Close() { p.pool.Close() }

func (p *Postgres) wait(ctx context.Context, relation string) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx, relation)
}

func (p *Postgres) DiagnosisClaims(ctx context.Context, pat *match.Matcher, types []model.ClaimType, w model.Window) ([]model.MemberDate, error) {
	if err := p.wait(ctx, "claims_diagnoses"); err != nil {
		return nil, err
	}

	// One row per qualifying claim entry, same-day duplicates
	// included: the temporal qualifier counts claims, not distinct
	// dates. EXISTS keeps multi-code claims from fanning out.
	q := `
		SELECT e.member_id_hash, e.date_of_service
		FROM claims_entries e
		WHERE EXISTS (
			SELECT 1 FROM claims_diagnoses d
			WHERE d.claim_entry_id = e.claim_entry_id
			  AND ($1::text[] IS NULL OR upper(d.icd_code) LIKE ANY($1))
		)
		  AND ($2::text[] IS NULL OR e.claim_type = ANY($2))
		  AND ($3::date IS NULL OR e.date_of_service >= $3)
		  AND ($4::date IS NULL OR e.date_of_service <= $4)`

	rows, err := p.pool.Query(ctx, q, likeParam(pat), typeParam(types), dateParam(w.Start), dateParam(w.End))
	if err != nil {
		return nil, fmt.Errorf("query claims_diagnoses: %w", err)
	}
	return scanMemberDates(rows)
}

func (p *Postgres) DiagnosisDatesFor(ctx context.Context, members []string, pat *match.Matcher) ([]model.MemberDate, error) {
	if len(members) == 0 {
		return nil, nil
	}
	if err := p.wait(ctx, "claims_diagnoses"); err != nil {
		return nil, err
	}

	q := `
		SELECT DISTINCT e.member_id_hash, e.date_of_service
		FROM claims_entries e
		JOIN claims_diagnoses d ON d.claim_entry_id = e.claim_entry_id
		WHERE e.member_id_hash = ANY($1)
		  AND ($2::text[] IS NULL OR upper(d.icd_code) LIKE ANY($2))`

	rows, err := p.pool.Query(ctx, q, members, likeParam(pat))
	if err != nil {
		return nil, fmt.Errorf("query claims_diagnoses: %w", err)
	}
	return scanMemberDates(rows)
}

func (p *Postgres) MembersWithDiagnosis(ctx context.Context, members []string, pat *match.Matcher) (MemberSet, error) {
	if len(members) == 0 {
		return MemberSet{}, nil
	}
	if err := p.wait(ctx, "claims_diagnoses"); err != nil {
		return nil, err
	}

	q := `
		SELECT DISTINCT e.member_id_hash
		FROM claims_entries e
		JOIN claims_diagnoses d ON d.claim_entry_id = e.claim_entry_id
		WHERE e.member_id_hash = ANY($1)
		  AND ($2::text[] IS NULL OR upper(d.icd_code) LIKE ANY($2))`

	rows, err := p.pool.Query(ctx, q, members, likeParam(pat))
	if err != nil {
		return nil, fmt.Errorf("query claims_diagnoses: %w", err)
	}
	return scanMemberSet(rows)
}

func (p *Postgres) MembersWithProcedure(ctx context.Context, members []string, pat *match.Matcher, w model.Window) (MemberSet, error) {
	if len(members) == 0 {
		return MemberSet{}, nil
	}
	if err := p.wait(ctx, "claims_procedures"); err != nil {
		return nil, err
	}

	q := `
		SELECT DISTINCT e.member_id_hash
		FROM claims_entries e
		JOIN claims_procedures pr ON pr.claim_entry_id = e.claim_entry_id
		WHERE e.member_id_hash = ANY($1)
		  AND ($2::text[] IS NULL OR upper(pr.proc_code) LIKE ANY($2))
		  AND ($3::date IS NULL OR e.date_of_service >= $3)
		  AND ($4::date IS NULL OR e.date_of_service <= $4)`

	rows, err := p.pool.Query(ctx, q, members, likeParam(pat), dateParam(w.Start), dateParam(w.End))
	if err != nil {
		return nil, fmt.Errorf("query claims_procedures: %w", err)
	}
	return scanMemberSet(rows)
}

func (p *Postgres) MembersWithMedication(ctx context.Context, members []string, names *match.NameSet, w model.Window) (MemberSet, error) {
	if len(members) == 0 || names.Empty() {
		return MemberSet{}, nil
	}
	if err := p.wait(ctx, "claims_drugs"); err != nil {
		return nil, err
	}

	q := `
		SELECT DISTINCT e.member_id_hash
		FROM claims_entries e
		JOIN claims_drugs dr ON dr.claim_entry_id = e.claim_entry_id
		WHERE e.member_id_hash = ANY($1)
		  AND lower(dr.product_service_name) = ANY($2)
		  AND e.claim_type = 'pharmacy'
		  AND ($3::date IS NULL OR e.date_of_service >= $3)
		  AND ($4::date IS NULL OR e.date_of_service <= $4)`

	rows, err := p.pool.Query(ctx, q, members, names.Names(), dateParam(w.Start), dateParam(w.End))
	if err != nil {
		return nil, fmt.Errorf("query claims_drugs: %w", err)
	}
	return scanMemberSet(rows)
}

func (p *Postgres) Members(ctx context.Context, ids []string) ([]model.Member, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if err := p.wait(ctx, "members"); err != nil {
		return nil, err
	}

	q := `
		SELECT member_id_hash, first_name, last_name, date_of_birth,
		       gender, external_user_id, enrollment_date, termination_date
		FROM members
		WHERE member_id_hash = ANY($1)`

	rows, err := p.pool.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var out []model.Member
	for rows.Next() {
		var m model.Member
		var first, last, gender, ext *string
		var dob, enrolled, terminated *time.Time
		if err := rows.Scan(&m.MemberID, &first, &last, &dob, &gender, &ext, &enrolled, &terminated); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.FirstName = deref(first)
		m.LastName = deref(last)
		m.Gender = deref(gender)
		m.ExternalUserID = deref(ext)
		m.DateOfBirth = dob
		m.EnrollmentDate = enrolled
		m.TerminationDate = terminated
		out = append(out, m)
	}
	return out, rows.Err()
}

func (p *Postgres) LatestServiceDate(ctx context.Context) (time.Time, error) {
	if err := p.wait(ctx, "claims_entries"); err != nil {
		return time.Time{}, err
	}
	var latest *time.Time
	err := p.pool.QueryRow(ctx, `SELECT max(date_of_service) FROM claims_entries`).Scan(&latest)
	if err != nil {
		return time.Time{}, fmt.Errorf("query latest service date: %w", err)
	}
	if latest == nil {
		return time.Time{}, &DataGapError{Relation: "claims_entries"}
	}
	return *latest, nil
}

func (p *Postgres) HasProcedureData(ctx context.Context) (bool, error) {
	return p.relationHasRows(ctx, "claims_procedures")
}

func (p *Postgres) HasMedicationData(ctx context.Context) (bool, error) {
	return p.relationHasRows(ctx, "claims_drugs")
}

func (p *Postgres) relationHasRows(ctx context.Context, relation string) (bool, error) {
	if err := p.wait(ctx, relation); err != nil {
		return false, err
	}
	var one int
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`SELECT 1 FROM %s LIMIT 1`, relation)).Scan(&one)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("probe %s: %w", relation, err)
	}
	return true, nil
}

func scanMemberDates(rows pgx.Rows) ([]model.MemberDate, error) {
	defer rows.Close()
	var out []model.MemberDate
	for rows.Next() {
		var md model.MemberDate
		if err := rows.Scan(&md.MemberID, &md.ServiceDate); err != nil {
			return nil, fmt.Errorf("scan claim date: %w", err)
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

func scanMemberSet(rows pgx.Rows) (MemberSet, error) {
	defer rows.Close()
	set := make(MemberSet)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan member id: %w", err)
		}
		set.Add(id)
	}
	return set, rows.Err()
}

// likeParam renders a matcher as a LIKE ANY operand. Nil means "no
// filter" and disables the predicate entirely.
func likeParam(pat *match.Matcher) []string {
	return pat.LikeTerms()
}

func typeParam(types []model.ClaimType) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func dateParam(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
