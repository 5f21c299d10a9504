package workflow

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/clearfirm/compliance-module-audit/interfaces"
	"github.com/clearfirm/compliance-module-audit/ledger"
	"github.com/clearfirm/compliance-module-audit/ledger/store"
	"github.com/clearfirm/compliance-module-audit/types"
)

// fakePersister counts ApplyStatusChange calls and can be made to fail.
type fakePersister struct {
	calls int
	err   error

	lastEntityID string
	lastStatus   types.Status
}

func (p *fakePersister) ApplyStatusChange(ctx context.Context, entityType types.EntityType, entityID string, newStatus types.Status) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.lastEntityID = entityID
	p.lastStatus = newStatus
	return nil
}

// fakeRecorder counts RecordTransition calls and can be made to fail.
type fakeRecorder struct {
	calls int
	err   error
	last  *types.TransitionRecord
}

func (r *fakeRecorder) RecordTransition(ctx context.Context, rec *types.TransitionRecord) error {
	r.calls++
	if r.err != nil {
		return r.err
	}
	r.last = rec
	return nil
}

func testEngine(t *testing.T, persister interfaces.StatusPersister, recorder interfaces.AuditRecorder) interfaces.Engine {
	t.Helper()
	e, err := NewEngine(DefaultRuleSet(), persister, recorder, zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewEngine() error: %v", err)
	}
	return e
}

func docRequest(role types.Role, from, to types.Status) types.TransitionRequest {
	return types.TransitionRequest{
		TenantID:      "firm-a",
		EntityType:    types.EntityDocument,
		EntityID:      "DOC-1",
		CurrentStatus: from,
		TargetStatus:  to,
		ActorID:       "user-1",
		ActorRole:     role,
	}
}

func TestNewEngineValidation(t *testing.T) {
	rules := DefaultRuleSet()
	persister := &fakePersister{}
	recorder := &fakeRecorder{}
	nop := zerolog.New(io.Discard)

	if _, err := NewEngine(nil, persister, recorder, nop); err == nil {
		t.Error("NewEngine without rules returned no error")
	}
	if _, err := NewEngine(rules, nil, recorder, nop); err == nil {
		t.Error("NewEngine without persister returned no error")
	}
	if _, err := NewEngine(rules, persister, nil, nop); err == nil {
		t.Error("NewEngine without recorder returned no error")
	}
}

func TestCanTransition(t *testing.T) {
	e := testEngine(t, &fakePersister{}, &fakeRecorder{})

	tests := []struct {
		name        string
		from, to    types.Status
		role        types.Role
		wantAllowed bool
		reasonPart  string
	}{
		{"associate submits draft", types.StatusDraft, types.StatusSubmitted, types.RoleAssociate, true, ""},
		{"partner submits draft", types.StatusDraft, types.StatusSubmitted, types.RolePartner, true, ""},
		{"trainee below minimum", types.StatusDraft, types.StatusSubmitted, types.RoleTrainee, false, "insufficient role"},
		{"edge missing from table", types.StatusSubmitted, types.StatusDraft, types.RoleAdmin, false, "no such transition"},
		{"unknown role is below everything", types.StatusDraft, types.StatusSubmitted, "CONTRACTOR", false, "insufficient role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := e.CanTransition(types.EntityDocument, tt.from, tt.to, tt.role)
			if got.Allowed != tt.wantAllowed {
				t.Errorf("Allowed = %v, want %v (reason %q)", got.Allowed, tt.wantAllowed, got.Reason)
			}
			if tt.reasonPart != "" && !strings.Contains(got.Reason, tt.reasonPart) {
				t.Errorf("Reason = %q, want it to contain %q", got.Reason, tt.reasonPart)
			}
		})
	}
}

func TestCanTransitionIsPure(t *testing.T) {
	e := testEngine(t, &fakePersister{}, &fakeRecorder{})

	first := e.CanTransition(types.EntityDocument, types.StatusDraft, types.StatusSubmitted, types.RoleTrainee)
	second := e.CanTransition(types.EntityDocument, types.StatusDraft, types.StatusSubmitted, types.RoleTrainee)
	if first != second {
		t.Errorf("identical calls returned different decisions: %+v vs %+v", first, second)
	}
}

func TestCanTransitionApprovalFlag(t *testing.T) {
	e := testEngine(t, &fakePersister{}, &fakeRecorder{})

	got := e.CanTransition(types.EntityDocument, types.StatusUnderReview, types.StatusApproved, types.RoleManager)
	if !got.Allowed || !got.RequiresApproval {
		t.Errorf("decision = %+v, want allowed with approval required", got)
	}
}

// TestExecuteTransitionSuccess is the standard happy path: an associate
// submits a draft document, the status persists and exactly one audit
// record is produced.
func TestExecuteTransitionSuccess(t *testing.T) {
	persister := &fakePersister{}
	recorder := &fakeRecorder{}
	e := testEngine(t, persister, recorder)

	result := e.ExecuteTransition(context.Background(), docRequest(types.RoleAssociate, types.StatusDraft, types.StatusSubmitted))
	if !result.Success {
		t.Fatalf("transition failed: %v", result.Err)
	}
	if result.NewStatus != types.StatusSubmitted {
		t.Errorf("NewStatus = %s, want SUBMITTED", result.NewStatus)
	}
	if result.AuditErr != nil {
		t.Errorf("unexpected audit error: %v", result.AuditErr)
	}

	if persister.calls != 1 || persister.lastStatus != types.StatusSubmitted {
		t.Errorf("persister: %d calls, last status %s", persister.calls, persister.lastStatus)
	}
	if recorder.calls != 1 {
		t.Fatalf("recorder called %d times, want 1", recorder.calls)
	}
	rec := recorder.last
	if rec.FromStatus != types.StatusDraft || rec.ToStatus != types.StatusSubmitted {
		t.Errorf("record = %s -> %s, want DRAFT -> SUBMITTED", rec.FromStatus, rec.ToStatus)
	}
	if rec.ActorID != "user-1" || rec.TenantID != "firm-a" {
		t.Errorf("record actor/tenant = %s/%s", rec.ActorID, rec.TenantID)
	}
}

// TestExecuteTransitionInsufficientRole: a trainee may not submit; no
// status mutation, no audit entry.
func TestExecuteTransitionInsufficientRole(t *testing.T) {
	persister := &fakePersister{}
	recorder := &fakeRecorder{}
	e := testEngine(t, persister, recorder)

	result := e.ExecuteTransition(context.Background(), docRequest(types.RoleTrainee, types.StatusDraft, types.StatusSubmitted))
	if result.Success {
		t.Fatal("transition succeeded for a trainee")
	}

	var validationErr *ValidationError
	if !errors.As(result.Err, &validationErr) {
		t.Fatalf("Err = %v, want *ValidationError", result.Err)
	}
	if !strings.Contains(validationErr.Reason, "insufficient role") {
		t.Errorf("Reason = %q", validationErr.Reason)
	}
	if persister.calls != 0 {
		t.Errorf("persister called %d times, want 0", persister.calls)
	}
	if recorder.calls != 0 {
		t.Errorf("recorder called %d times, want 0", recorder.calls)
	}
}

// TestExecuteTransitionNoSuchEdge: SUBMITTED -> DRAFT is not in the
// table; rejection is role-independent.
func TestExecuteTransitionNoSuchEdge(t *testing.T) {
	persister := &fakePersister{}
	recorder := &fakeRecorder{}
	e := testEngine(t, persister, recorder)

	result := e.ExecuteTransition(context.Background(), docRequest(types.RoleAdmin, types.StatusSubmitted, types.StatusDraft))
	if result.Success {
		t.Fatal("transition succeeded along a missing edge")
	}
	var validationErr *ValidationError
	if !errors.As(result.Err, &validationErr) {
		t.Fatalf("Err = %v, want *ValidationError", result.Err)
	}
	if !strings.Contains(validationErr.Reason, "no such transition") {
		t.Errorf("Reason = %q", validationErr.Reason)
	}
	if persister.calls != 0 || recorder.calls != 0 {
		t.Errorf("collaborators invoked on rejected transition: persister %d, recorder %d", persister.calls, recorder.calls)
	}
}

// TestExecuteTransitionPersistFailure: when the status change cannot be
// persisted, the transition fails and the audit recorder is never
// invoked, so no orphan audit entries are written.
func TestExecuteTransitionPersistFailure(t *testing.T) {
	persister := &fakePersister{err: errors.New("table locked")}
	recorder := &fakeRecorder{}
	e := testEngine(t, persister, recorder)

	result := e.ExecuteTransition(context.Background(), docRequest(types.RoleAssociate, types.StatusDraft, types.StatusSubmitted))
	if result.Success {
		t.Fatal("transition succeeded despite persist failure")
	}
	if result.Err == nil || !strings.Contains(result.Err.Error(), "table locked") {
		t.Errorf("Err = %v, want wrapped persist failure", result.Err)
	}
	if recorder.calls != 0 {
		t.Errorf("recorder called %d times after persist failure, want 0", recorder.calls)
	}
}

// TestExecuteTransitionAuditFailure: status persisted but the audit
// append failed; the transition stands and the divergence is surfaced as
// a PartialTransitionError, distinct from a validation failure.
func TestExecuteTransitionAuditFailure(t *testing.T) {
	persister := &fakePersister{}
	recorder := &fakeRecorder{err: errors.New("ledger unavailable")}
	e := testEngine(t, persister, recorder)

	result := e.ExecuteTransition(context.Background(), docRequest(types.RoleAssociate, types.StatusDraft, types.StatusSubmitted))
	if !result.Success {
		t.Fatal("transition reported failed although status persisted")
	}
	if result.NewStatus != types.StatusSubmitted {
		t.Errorf("NewStatus = %s, want SUBMITTED", result.NewStatus)
	}

	var partial *PartialTransitionError
	if !errors.As(result.AuditErr, &partial) {
		t.Fatalf("AuditErr = %v, want *PartialTransitionError", result.AuditErr)
	}
	if partial.EntityID != "DOC-1" || partial.TenantID != "firm-a" {
		t.Errorf("partial error context = %s/%s", partial.TenantID, partial.EntityID)
	}
	var validationErr *ValidationError
	if errors.As(result.AuditErr, &validationErr) {
		t.Error("audit failure must not be a validation error")
	}
}

// TestExecuteTransitionWithLedger wires the engine to the real ledger
// through the transition recorder: one executed transition yields exactly
// one verifiable STATUS_CHANGE entry.
func TestExecuteTransitionWithLedger(t *testing.T) {
	ctx := context.Background()
	l, err := ledger.NewLedger(store.NewMemoryStore(), zerolog.New(io.Discard))
	if err != nil {
		t.Fatalf("NewLedger() error: %v", err)
	}
	recorder, err := ledger.NewTransitionRecorder(l)
	if err != nil {
		t.Fatalf("NewTransitionRecorder() error: %v", err)
	}
	persister := &fakePersister{}
	e := testEngine(t, persister, recorder)

	result := e.ExecuteTransition(ctx, docRequest(types.RoleAssociate, types.StatusDraft, types.StatusSubmitted))
	if !result.Success || result.AuditErr != nil {
		t.Fatalf("transition result = %+v", result)
	}

	entries, err := l.Entries(ctx, "firm-a", types.EntryFilter{})
	if err != nil {
		t.Fatalf("Entries() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("len(entries) = %d, want exactly 1", len(entries))
	}
	entry := entries[0]
	if entry.Action != types.ActionStatusChange {
		t.Errorf("Action = %s, want STATUS_CHANGE", entry.Action)
	}
	if entry.BeforeState["status"] != "DRAFT" || entry.AfterState["status"] != "SUBMITTED" {
		t.Errorf("state snapshots = %v -> %v", entry.BeforeState, entry.AfterState)
	}

	verification, err := l.VerifyChain(ctx, "firm-a")
	if err != nil {
		t.Fatalf("VerifyChain() error: %v", err)
	}
	if !verification.Valid {
		t.Errorf("chain invalid after transition: %s", verification.Reason)
	}
}

func TestProgress(t *testing.T) {
	e := testEngine(t, &fakePersister{}, &fakeRecorder{})

	tests := []struct {
		name       string
		entityType types.EntityType
		status     types.Status
		want       int
	}{
		{"terminal is complete", types.EntityDocument, types.StatusArchived, 100},
		{"unknown status", types.EntityDocument, "LIMBO", 0},
		{"unknown entity type", "INVOICE", types.StatusDraft, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Progress(tt.entityType, tt.status); got != tt.want {
				t.Errorf("Progress() = %d, want %d", got, tt.want)
			}
		})
	}

	// Progress never decreases along the main document path.
	path := []types.Status{
		types.StatusDraft,
		types.StatusSubmitted,
		types.StatusUnderReview,
		types.StatusApproved,
		types.StatusArchived,
	}
	prev := -1
	for _, status := range path {
		pct := e.Progress(types.EntityDocument, status)
		if pct < prev {
			t.Errorf("progress decreased at %s: %d < %d", status, pct, prev)
		}
		if pct < 0 || pct > 100 {
			t.Errorf("progress out of range at %s: %d", status, pct)
		}
		prev = pct
	}
	if e.Progress(types.EntityDocument, types.StatusArchived) != 100 {
		t.Error("terminal status does not report 100")
	}
}
