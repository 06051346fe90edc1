package crm

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the stage a VC occupies in the outreach pipeline.
type Status string

const (
	StatusToContact    Status = "to_contact"
	StatusContacted    Status = "contacted"
	StatusInDiscussion Status = "in_discussion"
	StatusPassed       Status = "passed"
	StatusClosedWon    Status = "closed_won"
)

// IsValid reports whether the status is one of the known pipeline stages.
func (st Status) IsValid() bool {
	switch st {
	case StatusToContact, StatusContacted, StatusInDiscussion, StatusPassed, StatusClosedWon:
		return true
	}
	return false
}

// VC is one investor record in the outreach pipeline. Timestamps are unix
// milliseconds; zero means unset.
type VC struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	FirmType     string   `json:"firmType"`
	CheckSize    string   `json:"checkSize"`
	Email        string   `json:"email"`
	Website      string   `json:"website,omitempty"`
	LinkedIn     string   `json:"linkedin,omitempty"`
	Status       Status   `json:"status"`
	Notes        string   `json:"notes"`
	Tags         []string `json:"tags"`
	AddedAt      int64    `json:"addedAt"`
	ContactedAt  int64    `json:"contactedAt,omitempty"`
	LastFollowUp int64    `json:"lastFollowUp,omitempty"`
	NextFollowUp int64    `json:"nextFollowUp,omitempty"`
}

// VCInput is the caller-supplied portion of a new pipeline record.
type VCInput struct {
	Name      string `json:"name"`
	FirmType  string `json:"firmType"`
	CheckSize string `json:"checkSize"`
	Email     string `json:"email"`
	Website   string `json:"website"`
	LinkedIn  string `json:"linkedin"`
	Notes     string `json:"notes"`
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// Validate checks required fields and formats. All problems are reported
// together.
func (in VCInput) Validate() error {
	var errs []error
	if strings.TrimSpace(in.Name) == "" {
		errs = append(errs, errors.New("name is required"))
	}
	if email := strings.TrimSpace(in.Email); email == "" {
		errs = append(errs, errors.New("email is required"))
	} else if !emailPattern.MatchString(email) {
		errs = append(errs, fmt.Errorf("invalid email %q", email))
	}
	if strings.TrimSpace(in.FirmType) == "" {
		errs = append(errs, errors.New("firm type is required"))
	}
	if strings.TrimSpace(in.CheckSize) == "" {
		errs = append(errs, errors.New("check size is required"))
	}
	if err := validateURL("website", in.Website); err != nil {
		errs = append(errs, err)
	}
	if err := validateURL("linkedin", in.LinkedIn); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("crm: invalid vc record: %w", errors.Join(errs...))
	}
	return nil
}

func validateURL(field, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.ParseRequestURI(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid %s URL %q", field, raw)
	}
	return nil
}

// AddVC validates and inserts a new pipeline record in status to_contact.
// Names are deduplicated case-insensitively: on a duplicate the existing
// record is returned together with ErrDuplicate.
func (s *Store) AddVC(ctx context.Context, in VCInput) (VC, error) {
	if err := in.Validate(); err != nil {
		return VC{}, err
	}
	name := strings.TrimSpace(in.Name)

	existing, err := s.findVCByName(ctx, name)
	if err == nil {
		return existing, ErrDuplicate
	}
	if !errors.Is(err, ErrNotFound) {
		return VC{}, err
	}

	vc := VC{
		ID:        uuid.NewString(),
		Name:      name,
		FirmType:  strings.TrimSpace(in.FirmType),
		CheckSize: strings.TrimSpace(in.CheckSize),
		Email:     strings.ToLower(strings.TrimSpace(in.Email)),
		Website:   strings.TrimSpace(in.Website),
		LinkedIn:  strings.TrimSpace(in.LinkedIn),
		Status:    StatusToContact,
		Notes:     strings.TrimSpace(in.Notes),
		Tags:      []string{},
		AddedAt:   s.now().UnixMilli(),
	}
	if err := s.putVC(ctx, vc, true); err != nil {
		return VC{}, err
	}
	return vc, nil
}

// VCByID returns one pipeline record.
func (s *Store) VCByID(ctx context.Context, id string) (VC, error) {
	return s.scanVC(s.db.QueryRowContext(ctx,
		`SELECT `+vcColumns+` FROM vc_pipeline WHERE id = ?`, id))
}

func (s *Store) findVCByName(ctx context.Context, name string) (VC, error) {
	return s.scanVC(s.db.QueryRowContext(ctx,
		`SELECT `+vcColumns+` FROM vc_pipeline WHERE LOWER(name) = LOWER(?)`, name))
}

// UpdateVCStatus moves a record to a new pipeline stage. The first move to
// contacted stamps ContactedAt; later status changes leave it untouched.
func (s *Store) UpdateVCStatus(ctx context.Context, id string, status Status) (VC, error) {
	if !status.IsValid() {
		return VC{}, fmt.Errorf("crm: unknown status %q", status)
	}
	vc, err := s.VCByID(ctx, id)
	if err != nil {
		return VC{}, err
	}
	vc.Status = status
	if status == StatusContacted && vc.ContactedAt == 0 {
		vc.ContactedAt = s.now().UnixMilli()
	}
	if err := s.putVC(ctx, vc, false); err != nil {
		return VC{}, err
	}
	return vc, nil
}

// UpdateVCNotes replaces the notes on a record.
func (s *Store) UpdateVCNotes(ctx context.Context, id, notes string) (VC, error) {
	vc, err := s.VCByID(ctx, id)
	if err != nil {
		return VC{}, err
	}
	vc.Notes = notes
	if err := s.putVC(ctx, vc, false); err != nil {
		return VC{}, err
	}
	return vc, nil
}

// AddVCTag appends a tag unless it is already present.
func (s *Store) AddVCTag(ctx context.Context, id, tag string) (VC, error) {
	vc, err := s.VCByID(ctx, id)
	if err != nil {
		return VC{}, err
	}
	if !slices.Contains(vc.Tags, tag) {
		vc.Tags = append(vc.Tags, tag)
		if err := s.putVC(ctx, vc, false); err != nil {
			return VC{}, err
		}
	}
	return vc, nil
}

// RemoveVCTag deletes a tag. Removing an absent tag is not an error.
func (s *Store) RemoveVCTag(ctx context.Context, id, tag string) (VC, error) {
	vc, err := s.VCByID(ctx, id)
	if err != nil {
		return VC{}, err
	}
	if i := slices.Index(vc.Tags, tag); i >= 0 {
		vc.Tags = slices.Delete(vc.Tags, i, i+1)
		if err := s.putVC(ctx, vc, false); err != nil {
			return VC{}, err
		}
	}
	return vc, nil
}

// SetVCFollowUp schedules the next follow-up date.
func (s *Store) SetVCFollowUp(ctx context.Context, id string, at time.Time) (VC, error) {
	vc, err := s.VCByID(ctx, id)
	if err != nil {
		return VC{}, err
	}
	vc.NextFollowUp = at.UnixMilli()
	if err := s.putVC(ctx, vc, false); err != nil {
		return VC{}, err
	}
	return vc, nil
}

// RecordVCFollowUp marks a follow-up as done: LastFollowUp is stamped now
// and any scheduled NextFollowUp is cleared.
func (s *Store) RecordVCFollowUp(ctx context.Context, id string) (VC, error) {
	vc, err := s.VCByID(ctx, id)
	if err != nil {
		return VC{}, err
	}
	vc.LastFollowUp = s.now().UnixMilli()
	vc.NextFollowUp = 0
	if err := s.putVC(ctx, vc, false); err != nil {
		return VC{}, err
	}
	return vc, nil
}

// DeleteVC removes a record. Deleting an absent record is not an error.
func (s *Store) DeleteVC(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM vc_pipeline WHERE id = ?`, id); err != nil {
		return fmt.Errorf("crm: delete vc %q: %w", id, err)
	}
	return nil
}

// ListVCs returns every pipeline record, newest first.
func (s *Store) ListVCs(ctx context.Context) ([]VC, error) {
	return s.queryVCs(ctx, `SELECT `+vcColumns+` FROM vc_pipeline ORDER BY added_at DESC`)
}

// ListVCsByStatus returns the records in one pipeline stage, newest first.
func (s *Store) ListVCsByStatus(ctx context.Context, status Status) ([]VC, error) {
	return s.queryVCs(ctx,
		`SELECT `+vcColumns+` FROM vc_pipeline WHERE status = ? ORDER BY added_at DESC`, status)
}

// DueFollowUps returns records whose scheduled follow-up is due now or
// overdue, soonest first.
func (s *Store) DueFollowUps(ctx context.Context) ([]VC, error) {
	return s.queryVCs(ctx,
		`SELECT `+vcColumns+` FROM vc_pipeline
		 WHERE next_follow_up != 0 AND next_follow_up <= ?
		 ORDER BY next_follow_up`, s.now().UnixMilli())
}

// PipelineStats summarises the pipeline. ResponseRate is the percentage of
// contacted VCs (ContactedAt stamped) that progressed to in_discussion or
// closed_won, rounded to the nearest integer.
type PipelineStats struct {
	Total        int `json:"total"`
	ToContact    int `json:"toContact"`
	Contacted    int `json:"contacted"`
	InDiscussion int `json:"inDiscussion"`
	Passed       int `json:"passed"`
	ClosedWon    int `json:"closedWon"`
	ResponseRate int `json:"responseRate"`
}

// Stats recomputes pipeline statistics from the base rows.
func (s *Store) Stats(ctx context.Context) (PipelineStats, error) {
	vcs, err := s.ListVCs(ctx)
	if err != nil {
		return PipelineStats{}, err
	}

	var st PipelineStats
	st.Total = len(vcs)
	var everContacted int
	for _, vc := range vcs {
		switch vc.Status {
		case StatusToContact:
			st.ToContact++
		case StatusContacted:
			st.Contacted++
		case StatusInDiscussion:
			st.InDiscussion++
		case StatusPassed:
			st.Passed++
		case StatusClosedWon:
			st.ClosedWon++
		}
		if vc.ContactedAt != 0 {
			everContacted++
		}
	}
	if everContacted > 0 {
		st.ResponseRate = int(math.Round(100 * float64(st.InDiscussion+st.ClosedWon) / float64(everContacted)))
	}
	return st, nil
}

// ExportCSV writes the pipeline as CSV. Commas inside notes become
// semicolons and tags are joined with semicolons so each record stays on
// one line of predictable width.
func (s *Store) ExportCSV(ctx context.Context, w io.Writer) error {
	vcs, err := s.ListVCs(ctx)
	if err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write([]string{
		"VC Name", "Firm Type", "Check Size", "Status", "Email", "Website", "Notes", "Tags", "Added Date",
	}); err != nil {
		return fmt.Errorf("crm: export csv: %w", err)
	}
	for _, vc := range vcs {
		row := []string{
			vc.Name,
			vc.FirmType,
			vc.CheckSize,
			string(vc.Status),
			vc.Email,
			vc.Website,
			strings.ReplaceAll(vc.Notes, ",", ";"),
			strings.Join(vc.Tags, ";"),
			time.UnixMilli(vc.AddedAt).Format(time.DateOnly),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("crm: export csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("crm: export csv: %w", err)
	}
	return nil
}

const vcColumns = `id, name, firm_type, check_size, email, website, linkedin,
	status, notes, tags, added_at, contacted_at, last_follow_up, next_follow_up`

func (s *Store) putVC(ctx context.Context, vc VC, insert bool) error {
	tags, err := json.Marshal(vc.Tags)
	if err != nil {
		return fmt.Errorf("crm: marshal tags: %w", err)
	}
	if insert {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO vc_pipeline (`+vcColumns+`)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			vc.ID, vc.Name, vc.FirmType, vc.CheckSize, vc.Email, vc.Website, vc.LinkedIn,
			vc.Status, vc.Notes, string(tags), vc.AddedAt, vc.ContactedAt, vc.LastFollowUp, vc.NextFollowUp)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE vc_pipeline SET name = ?, firm_type = ?, check_size = ?, email = ?,
				website = ?, linkedin = ?, status = ?, notes = ?, tags = ?,
				contacted_at = ?, last_follow_up = ?, next_follow_up = ?
			 WHERE id = ?`,
			vc.Name, vc.FirmType, vc.CheckSize, vc.Email, vc.Website, vc.LinkedIn,
			vc.Status, vc.Notes, string(tags), vc.ContactedAt, vc.LastFollowUp, vc.NextFollowUp,
			vc.ID)
	}
	if err != nil {
		return fmt.Errorf("crm: store vc %q: %w", vc.ID, err)
	}
	return nil
}

func (s *Store) scanVC(row *sql.Row) (VC, error) {
	var vc VC
	var tags string
	err := row.Scan(&vc.ID, &vc.Name, &vc.FirmType, &vc.CheckSize, &vc.Email, &vc.Website,
		&vc.LinkedIn, &vc.Status, &vc.Notes, &tags, &vc.AddedAt, &vc.ContactedAt,
		&vc.LastFollowUp, &vc.NextFollowUp)
	if errors.Is(err, sql.ErrNoRows) {
		return VC{}, ErrNotFound
	}
	if err != nil {
		return VC{}, fmt.Errorf("crm: scan vc: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &vc.Tags); err != nil {
		vc.Tags = []string{}
	}
	return vc, nil
}

func (s *Store) queryVCs(ctx context.Context, query string, args ...any) ([]VC, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("crm: list vcs: %w", err)
	}
	defer rows.Close()

	var out []VC
	for rows.Next() {
		var vc VC
		var tags string
		err := rows.Scan(&vc.ID, &vc.Name, &vc.FirmType, &vc.CheckSize, &vc.Email, &vc.Website,
			&vc.LinkedIn, &vc.Status, &vc.Notes, &tags, &vc.AddedAt, &vc.ContactedAt,
			&vc.LastFollowUp, &vc.NextFollowUp)
		if err != nil {
			return nil, fmt.Errorf("crm: list vcs: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &vc.Tags); err != nil {
			vc.Tags = []string{}
		}
		out = append(out, vc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("crm: list vcs: %w", err)
	}
	return out, nil
}
