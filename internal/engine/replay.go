// # Replay
//
// Replay re-drives a fresh engine from a journaled session and checks that
// it reproduces every recorded submission.
//
// ## What is journaled
//
// Only external inputs are recorded: host calls (setValue, setExternal,
// addItem, removeItem, refresh, flush, submit, finishSubmit, reset, clear)
// and debounce timer fires. Everything else is a pure function of those
// inputs and the compiled plan, so re-applying them in seq order rebuilds
// the same form value.
//
// ## Replay Flow
//
//	[ReadSession] → verify config hash → New(initial, external)
//	                                         ↓
//	                          [ReadChanges ORDER BY seq]
//	                                         ↓
//	                               Apply(change) each
//	                                         ↓
//	                 submit → compare ValueHash with recorded submission
//
// ## What is not compared
//
// Async validator results depend on the outside world and are not
// journaled. During replay async tasks are never started, so validity may
// differ from the recording; only the submitted value hash is compared.
// The clock is advanced to each recorded seq before the change is applied,
// so re-applied changes keep their recorded seq even where async
// diagnostics left gaps. Submissions are matched by position.

package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/fieldlogic/internal/compiler"
	"github.com/roach88/fieldlogic/internal/ir"
	"github.com/roach88/fieldlogic/internal/store"
)

// ErrConfigMismatch is returned when a session was recorded against a
// different configuration than the plan being replayed.
var ErrConfigMismatch = errors.New("session config hash does not match plan")

// SubmissionCheck compares one recorded submission with its replay.
type SubmissionCheck struct {
	ID       string `json:"id"`
	Seq      int64  `json:"seq"`
	Recorded string `json:"recorded_hash"`
	Replayed string `json:"replayed_hash"`
	Match    bool   `json:"match"`
}

// ReplayReport is the outcome of Replay.
type ReplayReport struct {
	SessionID   string            `json:"session_id"`
	Changes     int               `json:"changes"`
	Submissions []SubmissionCheck `json:"submissions"`
	// FinalValue is the form value after the last change.
	FinalValue     map[string]any `json:"final_value"`
	FinalValueHash string         `json:"final_value_hash"`
}

// Mismatches returns the number of submissions whose value differed.
func (r *ReplayReport) Mismatches() int {
	n := 0
	for _, s := range r.Submissions {
		if !s.Match {
			n++
		}
	}
	return n
}

// Replay re-applies the journal of sessionID to a fresh engine built from
// plan. opts are applied after the replay defaults; passing WithStore is
// not supported.
func Replay(ctx context.Context, plan *compiler.Plan, st *store.Store, sessionID string, opts ...EngineOption) (*ReplayReport, error) {
	sess, err := st.ReadSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	if sess.ConfigHash != plan.Hash {
		return nil, fmt.Errorf("replay %s: %w (recorded %s, plan %s)",
			sessionID, ErrConfigMismatch, sess.ConfigHash, plan.Hash)
	}
	changes, err := st.ReadChanges(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	recorded, err := st.ReadSubmissions(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}

	base := []EngineOption{
		WithInitialValue(sess.Initial),
		WithExternalData(sess.External),
		WithSessionID(sess.ID),
		WithTimers(heldTimers{}),
		WithTaskRunner(func(func()) {}),
	}
	e, err := New(plan, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	e.store = nil

	report := &ReplayReport{SessionID: sessionID}
	next := 0
	for _, ch := range changes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.Changes++
		e.clock.AdvanceTo(ch.Seq - 1)

		if ch.Op != ir.OpSubmit {
			if err := e.Apply(ch); err != nil {
				return nil, fmt.Errorf("replay seq %d (%s): %w", ch.Seq, ch.Op, err)
			}
			continue
		}

		res := e.Submit()
		hash, err := ir.ValueHash(res.Value)
		if err != nil {
			return nil, fmt.Errorf("replay seq %d: %w", ch.Seq, err)
		}
		check := SubmissionCheck{Seq: ch.Seq, Replayed: hash}
		if next < len(recorded) {
			check.ID = recorded[next].ID
			check.Recorded = recorded[next].ValueHash
			check.Match = check.Recorded == hash
			next++
		}
		report.Submissions = append(report.Submissions, check)
	}

	report.FinalValue = e.Value()
	report.FinalValueHash, err = ir.ValueHash(report.FinalValue)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	e.logger.Info("replay complete",
		"session", sessionID,
		"changes", report.Changes,
		"submissions", len(report.Submissions),
		"mismatches", report.Mismatches(),
	)
	return report, nil
}

// heldTimers never fire. Replay applies journaled timer fires instead.
type heldTimers struct{}

func (heldTimers) AfterFunc(time.Duration, func()) Timer { return heldTimer{} }

type heldTimer struct{}

func (heldTimer) Stop() bool { return true }
