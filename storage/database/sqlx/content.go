package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/content"
)

type dbSubmission struct {
	ID          string         `db:"id"`
	ContentType string         `db:"content_type"`
	Title       string         `db:"title"`
	Description string         `db:"description"`
	AuthorID    string         `db:"author_id"`
	AuthorRole  string         `db:"author_role"`
	Category    string         `db:"category"`
	Tags        pq.StringArray `db:"tags"`
	Priority    string         `db:"priority"`
	Status      string         `db:"status"`
	Version     int            `db:"version"`
	SubmittedAt null.Time      `db:"submitted_at"`
	ClaimedAt   null.Time      `db:"claimed_at"`
	ReviewerID  null.String    `db:"reviewer_id"`
	DecidedAt   null.Time      `db:"decided_at"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

func (row dbSubmission) toSubmission() content.Submission {
	sub := content.Submission{
		ID:          row.ID,
		ContentType: row.ContentType,
		Title:       row.Title,
		Description: row.Description,
		AuthorID:    row.AuthorID,
		AuthorRole:  row.AuthorRole,
		Category:    row.Category,
		Tags:        row.Tags,
		Priority:    content.Priority(row.Priority),
		Status:      content.Status(row.Status),
		Version:     row.Version,
		ReviewerID:  row.ReviewerID.String,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	if row.SubmittedAt.Valid {
		sub.SubmittedAt = row.SubmittedAt.Time
	}
	if row.ClaimedAt.Valid {
		sub.ClaimedAt = row.ClaimedAt.Time
	}
	if row.DecidedAt.Valid {
		sub.DecidedAt = row.DecidedAt.Time
	}
	return sub
}

type dbFeedback struct {
	SubmissionID string    `db:"submission_id"`
	AuthorID     string    `db:"author_id"`
	Body         string    `db:"body"`
	CreatedAt    time.Time `db:"created_at"`
}

const submissionColumns = `id, content_type, title, description, author_id, author_role, category, tags,
	priority, status, version, submitted_at, claimed_at, reviewer_id, decided_at, created_at, updated_at`

type submissionRepository struct {
	db *sqlx.DB
}

var _ content.Repository = (*submissionRepository)(nil)

func NewSubmissionRepository(db *sql.DB) *submissionRepository {
	return &submissionRepository{db: sqlx.NewDb(db, "postgres")}
}

func nullTime(t time.Time) null.Time { return null.NewTime(t, !t.IsZero()) }

func nullStr(s string) null.String { return null.NewString(s, s != "") }

func (repo *submissionRepository) CreateSubmission(ctx context.Context, sub content.Submission) (content.Submission, error) {
	query := `
		INSERT INTO submission (content_type, title, description, author_id, author_role, category, tags,
								priority, status, version, submitted_at, claimed_at, reviewer_id, decided_at,
								created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING id`
	err := repo.db.QueryRowContext(
		ctx, query,
		sub.ContentType, sub.Title, sub.Description, sub.AuthorID, sub.AuthorRole, sub.Category,
		pq.StringArray(sub.Tags), string(sub.Priority), string(sub.Status), sub.Version,
		nullTime(sub.SubmittedAt), nullTime(sub.ClaimedAt), nullStr(sub.ReviewerID), nullTime(sub.DecidedAt),
		sub.CreatedAt, sub.UpdatedAt,
	).Scan(&sub.ID)
	if err != nil {
		return content.Submission{}, errors.Wrap(err, "inserting submission")
	}
	return sub, nil
}

func (repo *submissionRepository) GetSubmission(ctx context.Context, id string) (content.Submission, error) {
	var row dbSubmission
	query := `SELECT ` + submissionColumns + ` FROM submission WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return content.Submission{}, content.ErrNotFound
		}
		return content.Submission{}, errors.Wrap(err, "getting submission")
	}

	sub := row.toSubmission()
	feedback, err := repo.getFeedback(ctx, id)
	if err != nil {
		return content.Submission{}, err
	}
	sub.Feedback = feedback
	return sub, nil
}

func (repo *submissionRepository) getFeedback(ctx context.Context, subID string) ([]content.FeedbackEntry, error) {
	var rows []dbFeedback
	query := `SELECT submission_id, author_id, body, created_at FROM submission_feedback WHERE submission_id = $1 ORDER BY id`
	if err := repo.db.SelectContext(ctx, &rows, query, subID); err != nil {
		return nil, errors.Wrap(err, "getting submission feedback")
	}
	feedback := make([]content.FeedbackEntry, 0, len(rows))
	for _, row := range rows {
		feedback = append(feedback, content.FeedbackEntry{
			AuthorID:  row.AuthorID,
			Body:      row.Body,
			CreatedAt: row.CreatedAt,
		})
	}
	return feedback, nil
}

func (repo *submissionRepository) QuerySubmissions(
	ctx context.Context, filter *content.QueryFilter, ordering []core.DBOrdering, page *core.Pagination,
) ([]content.Submission, error) {
	var conds []string
	var args []interface{}
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter != nil && !filter.IsEmpty() {
		if filter.Search != "" {
			p := arg("%" + filter.Search + "%")
			conds = append(conds, fmt.Sprintf("(title ILIKE %s OR description ILIKE %s OR category ILIKE %s)", p, p, p))
		}
		if filter.Statuses != nil {
			statuses := make([]string, 0, len(filter.Statuses))
			for _, s := range filter.Statuses {
				statuses = append(statuses, string(s))
			}
			conds = append(conds, fmt.Sprintf("status = ANY(%s)", arg(pq.StringArray(statuses))))
		}
		if filter.ContentTypes != nil {
			conds = append(conds, fmt.Sprintf("content_type = ANY(%s)", arg(pq.StringArray(filter.ContentTypes))))
		}
		if filter.AuthorID != "" {
			conds = append(conds, fmt.Sprintf("author_id = %s", arg(filter.AuthorID)))
		}
		if filter.ReviewerID != "" {
			conds = append(conds, fmt.Sprintf("reviewer_id = %s", arg(filter.ReviewerID)))
		}
		if filter.Priority != "" {
			conds = append(conds, fmt.Sprintf("priority = %s", arg(string(filter.Priority))))
		}
		if !filter.SubmittedFrom.IsZero() {
			conds = append(conds, fmt.Sprintf("submitted_at >= %s", arg(filter.SubmittedFrom)))
		}
		if !filter.SubmittedTo.IsZero() {
			conds = append(conds, fmt.Sprintf("submitted_at <= %s", arg(filter.SubmittedTo)))
		}
		if !filter.ClaimedBefore.IsZero() {
			conds = append(conds, fmt.Sprintf("claimed_at < %s", arg(filter.ClaimedBefore)))
		}
	}

	query := `SELECT ` + submissionColumns + ` FROM submission`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += orderBy(ordering, []core.DBOrdering{{Field: "submitted_at", Ascending: true}}, submissionOrderFields)
	if page != nil {
		if page.Limit > 0 {
			query += fmt.Sprintf(" LIMIT %s", arg(page.Limit))
		}
		if page.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %s", arg(page.Offset))
		}
	}

	var rows []dbSubmission
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying submissions")
	}
	subs := make([]content.Submission, 0, len(rows))
	for _, row := range rows {
		sub := row.toSubmission()
		feedback, err := repo.getFeedback(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		sub.Feedback = feedback
		subs = append(subs, sub)
	}
	return subs, nil
}

// UpdateSubmission persists sub if the stored version still equals expectedVersion.
// New feedback entries (beyond the stored count) are appended in the same transaction.
func (repo *submissionRepository) UpdateSubmission(
	ctx context.Context, sub content.Submission, expectedVersion int,
) (content.Submission, error) {
	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return content.Submission{}, errors.Wrap(err, "beginning tx")
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE submission
		SET content_type = $1, title = $2, description = $3, category = $4, tags = $5, priority = $6,
			status = $7, version = version + 1, submitted_at = $8, claimed_at = $9, reviewer_id = $10,
			decided_at = $11, updated_at = $12
		WHERE id = $13 AND version = $14
		RETURNING version`
	err = tx.QueryRowContext(
		ctx, query,
		sub.ContentType, sub.Title, sub.Description, sub.Category, pq.StringArray(sub.Tags),
		string(sub.Priority), string(sub.Status), nullTime(sub.SubmittedAt), nullTime(sub.ClaimedAt),
		nullStr(sub.ReviewerID), nullTime(sub.DecidedAt), sub.UpdatedAt,
		sub.ID, expectedVersion,
	).Scan(&sub.Version)
	if err != nil {
		if err == sql.ErrNoRows {
			// no row matched: missing submission or stale version
			var exists bool
			if err = repo.db.GetContext(ctx, &exists, `SELECT true FROM submission WHERE id = $1`, sub.ID); err != nil {
				if err == sql.ErrNoRows {
					return content.Submission{}, content.ErrNotFound
				}
				return content.Submission{}, errors.Wrap(err, "checking submission")
			}
			return content.Submission{}, content.ErrVersionConflict
		}
		return content.Submission{}, errors.Wrap(err, "updating submission")
	}

	// append feedback entries past the stored count
	var stored int
	if err = tx.GetContext(ctx, &stored, `SELECT COUNT(*) FROM submission_feedback WHERE submission_id = $1`, sub.ID); err != nil {
		return content.Submission{}, errors.Wrap(err, "counting submission feedback")
	}
	for _, entry := range sub.Feedback[min(stored, len(sub.Feedback)):] {
		_, err = tx.ExecContext(
			ctx,
			`INSERT INTO submission_feedback (submission_id, author_id, body, created_at) VALUES ($1, $2, $3, $4)`,
			sub.ID, entry.AuthorID, entry.Body, entry.CreatedAt,
		)
		if err != nil {
			return content.Submission{}, errors.Wrap(err, "inserting submission feedback")
		}
	}

	if err = tx.Commit(); err != nil {
		return content.Submission{}, errors.Wrap(err, "committing tx")
	}
	return sub, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func (repo *submissionRepository) DeleteSubmissionsByID(ctx context.Context, ids ...string) (int, error) {
	res, err := repo.db.ExecContext(ctx, `DELETE FROM submission WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, errors.Wrap(err, "deleting submissions")
	}
	count, err := res.RowsAffected()
	return int(count), errors.Wrap(err, "counting deleted submissions")
}

func (repo *submissionRepository) CountSubmissionsByStatus(ctx context.Context) (map[content.Status]int, error) {
	rows, err := repo.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM submission GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "counting submissions")
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[content.Status]int, len(content.AllStatuses))
	for rows.Next() {
		var status string
		var count int
		if err = rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "counting submissions")
		}
		counts[content.Status(status)] = count
	}
	return counts, errors.Wrap(rows.Err(), "counting submissions")
}

// submissionOrderFields are the columns the API may order submission listings by.
var submissionOrderFields = map[string]bool{
	"title":        true,
	"priority":     true,
	"status":       true,
	"submitted_at": true,
	"decided_at":   true,
	"created_at":   true,
}
