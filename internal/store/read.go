package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/fieldlogic/internal/ir"
)

// ErrSessionNotFound is returned when a session ID has no record.
var ErrSessionNotFound = errors.New("session not found")

// ReadSession returns the session record for id.
func (s *Store) ReadSession(ctx context.Context, id string) (ir.Session, error) {
	var (
		sess                  ir.Session
		initialJSON, extJSON string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, config_hash, initial, external
		FROM sessions
		WHERE id = ?
	`, id).Scan(&sess.ID, &sess.ConfigHash, &initialJSON, &extJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Session{}, fmt.Errorf("read session %q: %w", id, ErrSessionNotFound)
	}
	if err != nil {
		return ir.Session{}, fmt.Errorf("read session: %w", err)
	}

	if sess.Initial, err = unmarshalObject(initialJSON); err != nil {
		return ir.Session{}, fmt.Errorf("read session: %w", err)
	}
	if sess.External, err = unmarshalObject(extJSON); err != nil {
		return ir.Session{}, fmt.Errorf("read session: %w", err)
	}
	return sess, nil
}

// ListSessions returns all session IDs in lexical order. UUIDv7 IDs sort
// by creation time.
func (s *Store) ListSessions(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM sessions ORDER BY id COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return ids, nil
}

// ReadChanges returns the changes of a session in seq order.
// Returns an empty slice (not nil) if the session has no changes.
func (s *Store) ReadChanges(ctx context.Context, sessionID string) ([]ir.Change, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, op, path, key, value, idx
		FROM changes
		WHERE session_id = ?
		ORDER BY seq ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query changes: %w", err)
	}
	defer rows.Close()

	changes := []ir.Change{}
	for rows.Next() {
		var (
			ch        ir.Change
			op, value string
		)
		if err := rows.Scan(&ch.Seq, &op, &ch.Path, &ch.Key, &value, &ch.Index); err != nil {
			return nil, fmt.Errorf("scan change: %w", err)
		}
		ch.Op = ir.ChangeOp(op)
		if ch.Value, err = unmarshalValue(value); err != nil {
			return nil, fmt.Errorf("change seq=%d: %w", ch.Seq, err)
		}
		changes = append(changes, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate changes: %w", err)
	}
	return changes, nil
}

// ReadSubmissions returns the submissions of a session in seq order.
func (s *Store) ReadSubmissions(ctx context.Context, sessionID string) ([]ir.Submission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, valid, value_hash, value, errors
		FROM submissions
		WHERE session_id = ?
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	subs := []ir.Submission{}
	for rows.Next() {
		var (
			sub                 ir.Submission
			valueJSON, errsJSON string
		)
		if err := rows.Scan(&sub.ID, &sub.Seq, &sub.Valid, &sub.ValueHash, &valueJSON, &errsJSON); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		if sub.Value, err = unmarshalObject(valueJSON); err != nil {
			return nil, fmt.Errorf("submission %s: %w", sub.ID, err)
		}
		if sub.Errors, err = unmarshalErrors(errsJSON); err != nil {
			return nil, fmt.Errorf("submission %s: %w", sub.ID, err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}

// ReadDiagnostics returns the diagnostics of a session in seq order.
func (s *Store) ReadDiagnostics(ctx context.Context, sessionID string) ([]ir.Diagnostic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, code, field_path, entry_id, message
		FROM diagnostics
		WHERE session_id = ?
		ORDER BY seq ASC, id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query diagnostics: %w", err)
	}
	defer rows.Close()

	diags := []ir.Diagnostic{}
	for rows.Next() {
		var d ir.Diagnostic
		if err := rows.Scan(&d.Seq, &d.Code, &d.FieldPath, &d.EntryID, &d.Message); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		diags = append(diags, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}
	return diags, nil
}
