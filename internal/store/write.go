package store

import (
	"context"
	"fmt"

	"github.com/roach88/fieldlogic/internal/ir"
)

// WriteSession inserts a session record.
// Uses ON CONFLICT(id) DO NOTHING for idempotency - duplicate IDs are silently ignored.
func (s *Store) WriteSession(ctx context.Context, sess ir.Session) error {
	initialJSON, err := marshalValue(orEmpty(sess.Initial))
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	externalJSON, err := marshalValue(orEmpty(sess.External))
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, config_hash, initial, external, engine_version, config_version)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sess.ID,
		sess.ConfigHash,
		initialJSON,
		externalJSON,
		ir.EngineVersion,
		ir.ConfigVersion,
	)
	if err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

// WriteChange appends an external input to a session.
// Uses ON CONFLICT DO NOTHING so re-recording the same seq is a no-op.
//
// Note: The session must exist (foreign key constraint).
func (s *Store) WriteChange(ctx context.Context, sessionID string, ch ir.Change) error {
	valueJSON, err := marshalValue(ch.Value)
	if err != nil {
		return fmt.Errorf("write change: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO changes (session_id, seq, op, path, key, value, idx)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		sessionID,
		ch.Seq,
		string(ch.Op),
		ch.Path,
		ch.Key,
		valueJSON,
		ch.Index,
	)
	if err != nil {
		return fmt.Errorf("write change: %w", err)
	}
	return nil
}

// WriteSubmission records a submit result.
func (s *Store) WriteSubmission(ctx context.Context, sessionID string, sub ir.Submission) error {
	valueJSON, err := marshalValue(orEmpty(sub.Value))
	if err != nil {
		return fmt.Errorf("write submission: %w", err)
	}
	errorsJSON, err := marshalErrors(sub.Errors)
	if err != nil {
		return fmt.Errorf("write submission: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO submissions (id, session_id, seq, valid, value_hash, value, errors)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		sub.ID,
		sessionID,
		sub.Seq,
		sub.Valid,
		sub.ValueHash,
		valueJSON,
		errorsJSON,
	)
	if err != nil {
		return fmt.Errorf("write submission: %w", err)
	}
	return nil
}

// WriteDiagnostic records a runtime diagnostic.
func (s *Store) WriteDiagnostic(ctx context.Context, sessionID string, d ir.Diagnostic) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO diagnostics (session_id, seq, code, field_path, entry_id, message)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		sessionID,
		d.Seq,
		d.Code,
		d.FieldPath,
		d.EntryID,
		d.Message,
	)
	if err != nil {
		return fmt.Errorf("write diagnostic: %w", err)
	}
	return nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
