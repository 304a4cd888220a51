package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/phbpx/leadboard"
)

// lib/pq errorCodeNames
// https://github.com/lib/pq/blob/master/error.go#L178
const uniqueViolation = "23505"

// createLock is the advisory lock key held while a new lead is checked for
// duplicates and inserted.
const createLock = 0x6c656164

type LeadService struct {
	db       *sqlx.DB
	pipeline leadboard.Pipeline
}

func NewLeadService(db *sqlx.DB, pipeline leadboard.Pipeline) leadboard.LeadService {
	return &LeadService{
		db:       db,
		pipeline: pipeline,
	}
}

type leadRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Email        string    `db:"email"`
	Course       string    `db:"course"`
	Phone        string    `db:"phone"`
	Stage        string    `db:"stage"`
	LastModified time.Time `db:"last_modified"`
}

type historyRow struct {
	LeadID    string    `db:"lead_id"`
	Stage     string    `db:"stage"`
	ChangedAt time.Time `db:"changed_at"`
}

type commentRow struct {
	ID        string    `db:"id"`
	LeadID    string    `db:"lead_id"`
	Body      string    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (ls LeadService) List(ctx context.Context) (leadboard.Snapshot, error) {
	tx, err := ls.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var leads []leadRow
	query := `
	SELECT
		id, name, email, course, phone, stage, last_modified
	FROM leads
	ORDER BY position`
	if err := tx.SelectContext(ctx, &leads, query); err != nil {
		return nil, fmt.Errorf("selecting leads: %w", err)
	}

	var history []historyRow
	query = `SELECT lead_id, stage, changed_at FROM lead_status_history ORDER BY id`
	if err := tx.SelectContext(ctx, &history, query); err != nil {
		return nil, fmt.Errorf("selecting history: %w", err)
	}

	var comments []commentRow
	query = `SELECT id, lead_id, body, created_at, updated_at FROM lead_comments ORDER BY seq`
	if err := tx.SelectContext(ctx, &comments, query); err != nil {
		return nil, fmt.Errorf("selecting comments: %w", err)
	}

	historyByLead := make(map[string][]historyRow)
	for _, h := range history {
		historyByLead[h.LeadID] = append(historyByLead[h.LeadID], h)
	}
	commentsByLead := make(map[string][]commentRow)
	for _, c := range comments {
		commentsByLead[c.LeadID] = append(commentsByLead[c.LeadID], c)
	}

	snap := make(leadboard.Snapshot)
	for _, r := range leads {
		l := toLead(r, historyByLead[r.ID], commentsByLead[r.ID])
		snap[leadboard.Stage(r.Stage)] = append(snap[leadboard.Stage(r.Stage)], l)
	}

	// Loading checks every lead against the pipeline and fills empty stages.
	board, err := leadboard.LoadBoard(ls.pipeline, snap)
	if err != nil {
		return nil, err
	}
	return board.Snapshot(), nil
}

func (ls LeadService) GetByID(ctx context.Context, id string) (leadboard.Lead, error) {
	return getLead(ctx, ls.db, id)
}

func (ls LeadService) Create(ctx context.Context, newLead leadboard.NewLead) (leadboard.Lead, error) {
	var lead leadboard.Lead

	err := ls.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, createLock); err != nil {
			return fmt.Errorf("locking leads: %w", err)
		}

		var rows []leadRow
		if err := tx.SelectContext(ctx, &rows, `SELECT name, email, phone FROM leads`); err != nil {
			return fmt.Errorf("selecting leads: %w", err)
		}
		existing := make([]leadboard.Lead, len(rows))
		for i, r := range rows {
			existing[i] = leadboard.Lead{Name: r.Name, Email: r.Email, Phone: r.Phone}
		}
		if leadboard.IsDuplicate(newLead, leadboard.Snapshot{"": existing}) {
			return leadboard.ErrDuplicateLead
		}

		now := leadboard.Now()
		initial := ls.pipeline.Initial()
		lead = leadboard.Lead{
			ID:            uuid.NewString(),
			Name:          newLead.Name,
			Email:         newLead.Email,
			Course:        newLead.Course,
			Phone:         newLead.Phone,
			LastModified:  now,
			StatusHistory: []leadboard.StatusEntry{{Status: initial, Date: now}},
			Comments:      []leadboard.Comment{},
		}

		query := `
		INSERT INTO leads (
			id, name, email, course, phone, stage, last_modified
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)`
		_, err := tx.ExecContext(ctx, query,
			lead.ID,
			lead.Name,
			lead.Email,
			lead.Course,
			lead.Phone,
			initial,
			now,
		)
		if err != nil {
			return err
		}

		return insertHistory(ctx, tx, lead.ID, initial, now)
	})
	if err != nil {
		return leadboard.Lead{}, err
	}

	return lead, nil
}

func (ls LeadService) TransitionStage(ctx context.Context, id string, stage leadboard.Stage) (leadboard.Lead, error) {
	if !ls.pipeline.Has(stage) {
		return leadboard.Lead{}, fmt.Errorf("%w: %q", leadboard.ErrUnknownStage, stage)
	}

	return ls.mutate(ctx, id, func(tx *sqlx.Tx, now time.Time) error {
		query := `
		UPDATE leads SET
			stage = $2,
			position = nextval('lead_position_seq'),
			last_modified = $3
		WHERE id = $1`
		if _, err := tx.ExecContext(ctx, query, id, stage, now); err != nil {
			return err
		}
		return insertHistory(ctx, tx, id, stage, now)
	})
}

func (ls LeadService) AddComment(ctx context.Context, id string, text string) (leadboard.Lead, error) {
	return ls.mutate(ctx, id, func(tx *sqlx.Tx, now time.Time) error {
		query := `
		INSERT INTO lead_comments (
			id, lead_id, body, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $4
		)`
		_, err := tx.ExecContext(ctx, query, uuid.NewString(), id, text, now)
		return err
	})
}

func (ls LeadService) EditComment(ctx context.Context, id string, index int, text string) (leadboard.Lead, error) {
	return ls.mutate(ctx, id, func(tx *sqlx.Tx, now time.Time) error {
		commentID, err := commentAt(ctx, tx, id, index)
		if err != nil {
			return err
		}
		return updateComment(ctx, tx, id, commentID, text, now)
	})
}

func (ls LeadService) DeleteComment(ctx context.Context, id string, index int) (leadboard.Lead, error) {
	return ls.mutate(ctx, id, func(tx *sqlx.Tx, now time.Time) error {
		commentID, err := commentAt(ctx, tx, id, index)
		if err != nil {
			return err
		}
		return deleteComment(ctx, tx, id, commentID)
	})
}

func (ls LeadService) EditCommentByID(ctx context.Context, id string, commentID string, text string) (leadboard.Lead, error) {
	return ls.mutate(ctx, id, func(tx *sqlx.Tx, now time.Time) error {
		return updateComment(ctx, tx, id, commentID, text, now)
	})
}

func (ls LeadService) DeleteCommentByID(ctx context.Context, id string, commentID string) (leadboard.Lead, error) {
	return ls.mutate(ctx, id, func(tx *sqlx.Tx, now time.Time) error {
		return deleteComment(ctx, tx, id, commentID)
	})
}

// mutate locks the lead row, applies fn, bumps last_modified and returns the
// lead as committed.
func (ls LeadService) mutate(ctx context.Context, id string, fn func(tx *sqlx.Tx, now time.Time) error) (leadboard.Lead, error) {
	var lead leadboard.Lead

	err := ls.withTx(ctx, func(tx *sqlx.Tx) error {
		var locked string
		err := tx.GetContext(ctx, &locked, `SELECT id FROM leads WHERE id = $1 FOR UPDATE`, id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return leadboard.ErrLeadNotFound
			}
			return err
		}

		now := leadboard.Now()
		if err := fn(tx, now); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `UPDATE leads SET last_modified = $2 WHERE id = $1`, id, now); err != nil {
			return err
		}

		lead, err = getLead(ctx, tx, id)
		return err
	})
	if err != nil {
		return leadboard.Lead{}, err
	}

	return lead, nil
}

func (ls LeadService) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := ls.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		var pqerr *pq.Error
		if errors.As(err, &pqerr) && pqerr.Code == uniqueViolation {
			return leadboard.ErrDuplicateLead
		}
		return err
	}

	return tx.Commit()
}

func getLead(ctx context.Context, q sqlx.QueryerContext, id string) (leadboard.Lead, error) {
	var row leadRow
	query := `
	SELECT
		id,
		name,
		email,
		course,
		phone,
		stage,
		last_modified
	FROM leads
	WHERE id = $1`
	if err := sqlx.GetContext(ctx, q, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return leadboard.Lead{}, leadboard.ErrLeadNotFound
		}
		return leadboard.Lead{}, err
	}

	var history []historyRow
	query = `SELECT lead_id, stage, changed_at FROM lead_status_history WHERE lead_id = $1 ORDER BY id`
	if err := sqlx.SelectContext(ctx, q, &history, query, id); err != nil {
		return leadboard.Lead{}, err
	}

	var comments []commentRow
	query = `SELECT id, lead_id, body, created_at, updated_at FROM lead_comments WHERE lead_id = $1 ORDER BY seq`
	if err := sqlx.SelectContext(ctx, q, &comments, query, id); err != nil {
		return leadboard.Lead{}, err
	}

	return toLead(row, history, comments), nil
}

func insertHistory(ctx context.Context, tx *sqlx.Tx, id string, stage leadboard.Stage, at time.Time) error {
	query := `INSERT INTO lead_status_history (lead_id, stage, changed_at) VALUES ($1, $2, $3)`
	_, err := tx.ExecContext(ctx, query, id, stage, at)
	return err
}

// commentAt resolves a comment position to its id.
func commentAt(ctx context.Context, tx *sqlx.Tx, id string, index int) (string, error) {
	if index < 0 {
		return "", leadboard.ErrCommentNotFound
	}

	var commentID string
	query := `SELECT id FROM lead_comments WHERE lead_id = $1 ORDER BY seq OFFSET $2 LIMIT 1`
	if err := tx.GetContext(ctx, &commentID, query, id, index); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", leadboard.ErrCommentNotFound
		}
		return "", err
	}
	return commentID, nil
}

func updateComment(ctx context.Context, tx *sqlx.Tx, id, commentID, text string, now time.Time) error {
	query := `UPDATE lead_comments SET body = $3, updated_at = $4 WHERE lead_id = $1 AND id = $2`
	res, err := tx.ExecContext(ctx, query, id, commentID, text, now)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func deleteComment(ctx context.Context, tx *sqlx.Tx, id, commentID string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM lead_comments WHERE lead_id = $1 AND id = $2`, id, commentID)
	if err != nil {
		return err
	}
	return expectOne(res)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return leadboard.ErrCommentNotFound
	}
	return nil
}

func toLead(r leadRow, history []historyRow, comments []commentRow) leadboard.Lead {
	l := leadboard.Lead{
		ID:            r.ID,
		Name:          r.Name,
		Email:         r.Email,
		Course:        r.Course,
		Phone:         r.Phone,
		LastModified:  r.LastModified.UTC(),
		StatusHistory: make([]leadboard.StatusEntry, 0, len(history)),
		Comments:      make([]leadboard.Comment, 0, len(comments)),
	}
	for _, h := range history {
		l.StatusHistory = append(l.StatusHistory, leadboard.StatusEntry{
			Status: leadboard.Stage(h.Stage),
			Date:   h.ChangedAt.UTC(),
		})
	}
	for _, c := range comments {
		l.Comments = append(l.Comments, leadboard.Comment{
			ID:        c.ID,
			Text:      c.Body,
			CreatedAt: c.CreatedAt.UTC(),
			UpdatedAt: c.UpdatedAt.UTC(),
		})
	}
	return l
}
