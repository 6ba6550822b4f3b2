package repo

import (
	"context"
	"database/sql"
	"errors"

	"portfolioshare/internal/domain"
)

const submissionColumns = `id,portfolio_id,category_id,category_name,qualification_id,status,submitted_at,reviewed_at,assessor_feedback,grade,action_required,strengths_noted,areas_for_improvement,previous_feedback,previous_grade,submission_count,signed_off_at,review_action,reviewer_name,reviewer_role`

func (r Repo) InsertSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	_, err := r.q(tx).ExecContext(ctx, `INSERT INTO submissions(`+submissionColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.PortfolioID, s.CategoryID, s.CategoryName, s.QualificationID, s.Status, s.SubmittedAt,
		nullableStringPtr(s.ReviewedAt), nullableStringPtr(s.AssessorFeedback), nullableStringPtr(s.Grade), nullableStringPtr(s.ActionRequired),
		nullableStringPtr(s.StrengthsNoted), nullableStringPtr(s.AreasForImprovement), nullableStringPtr(s.PreviousFeedback), nullableStringPtr(s.PreviousGrade),
		s.SubmissionCount, nullableStringPtr(s.SignedOffAt), nullableStringPtr(s.ReviewAction), nullableStringPtr(s.ReviewerName), nullableStringPtr(s.ReviewerRole))
	return err
}

// UpdateSubmission writes every mutable column of s.
func (r Repo) UpdateSubmission(ctx context.Context, tx *sql.Tx, s domain.Submission) error {
	res, err := r.q(tx).ExecContext(ctx, `UPDATE submissions SET status=?, submitted_at=?, reviewed_at=?, assessor_feedback=?, grade=?, action_required=?, strengths_noted=?, areas_for_improvement=?,
previous_feedback=?, previous_grade=?, submission_count=?, signed_off_at=?, review_action=?, reviewer_name=?, reviewer_role=? WHERE id=?`,
		s.Status, s.SubmittedAt, nullableStringPtr(s.ReviewedAt), nullableStringPtr(s.AssessorFeedback), nullableStringPtr(s.Grade), nullableStringPtr(s.ActionRequired),
		nullableStringPtr(s.StrengthsNoted), nullableStringPtr(s.AreasForImprovement), nullableStringPtr(s.PreviousFeedback), nullableStringPtr(s.PreviousGrade),
		s.SubmissionCount, nullableStringPtr(s.SignedOffAt), nullableStringPtr(s.ReviewAction), nullableStringPtr(s.ReviewerName), nullableStringPtr(s.ReviewerRole), s.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubmission(scan func(dest ...any) error) (domain.Submission, error) {
	var s domain.Submission
	var reviewedAt, feedback, grade, actionRequired, strengths, areas, prevFeedback, prevGrade, signedOff, action, reviewer, role sql.NullString
	err := scan(&s.ID, &s.PortfolioID, &s.CategoryID, &s.CategoryName, &s.QualificationID, &s.Status, &s.SubmittedAt,
		&reviewedAt, &feedback, &grade, &actionRequired, &strengths, &areas, &prevFeedback, &prevGrade,
		&s.SubmissionCount, &signedOff, &action, &reviewer, &role)
	if err != nil {
		return s, err
	}
	s.ReviewedAt = stringPtr(reviewedAt)
	s.AssessorFeedback = stringPtr(feedback)
	s.Grade = stringPtr(grade)
	s.ActionRequired = stringPtr(actionRequired)
	s.StrengthsNoted = stringPtr(strengths)
	s.AreasForImprovement = stringPtr(areas)
	s.PreviousFeedback = stringPtr(prevFeedback)
	s.PreviousGrade = stringPtr(prevGrade)
	s.SignedOffAt = stringPtr(signedOff)
	s.ReviewAction = stringPtr(action)
	s.ReviewerName = stringPtr(reviewer)
	s.ReviewerRole = stringPtr(role)
	return s, nil
}

func (r Repo) GetSubmission(ctx context.Context, tx *sql.Tx, id string) (domain.Submission, error) {
	s, err := scanSubmission(r.q(tx).QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id).Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// SubmissionFilters narrow ListSubmissions. Empty fields match everything.
type SubmissionFilters struct {
	PortfolioID string
	Status      string
	Categories  []string
}

// ListSubmissions returns submissions oldest first.
func (r Repo) ListSubmissions(ctx context.Context, f SubmissionFilters) ([]domain.Submission, error) {
	query := `SELECT ` + submissionColumns + ` FROM submissions WHERE 1=1`
	var args []any
	if f.PortfolioID != "" {
		query += ` AND portfolio_id=?`
		args = append(args, f.PortfolioID)
	}
	if f.Status != "" {
		query += ` AND status=?`
		args = append(args, f.Status)
	}
	if len(f.Categories) > 0 {
		query += ` AND category_name IN (` + placeholders(len(f.Categories)) + `)`
		for _, c := range f.Categories {
			args = append(args, c)
		}
	}
	query += ` ORDER BY submitted_at, rowid`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Submission{}
	for rows.Next() {
		s, err := scanSubmission(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
