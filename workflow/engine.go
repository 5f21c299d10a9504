package workflow

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/clearfirm/compliance-module-audit/interfaces"
	"github.com/clearfirm/compliance-module-audit/types"
)

// engine implements the Engine interface. It is the single choke point
// through which entity status changes flow: validation against the rule
// table, then the persist and audit side effects through injected
// collaborators.
type engine struct {
	rules     *RuleSet
	persister interfaces.StatusPersister
	recorder  interfaces.AuditRecorder
	logger    zerolog.Logger

	// progress maps each status to a 0-100 completion percentage,
	// precomputed from the rule graph at construction.
	progress map[types.EntityType]map[types.Status]int
}

// NewEngine creates a workflow engine over the given rule set and
// collaborators. The persister applies validated status changes; the
// recorder appends the matching audit entry.
func NewEngine(rules *RuleSet, persister interfaces.StatusPersister, recorder interfaces.AuditRecorder, opLogger zerolog.Logger) (interfaces.Engine, error) {
	if rules == nil {
		return nil, fmt.Errorf("rules (RuleSet) are required for NewEngine")
	}
	if persister == nil {
		return nil, fmt.Errorf("persister (StatusPersister) is required for NewEngine")
	}
	if recorder == nil {
		return nil, fmt.Errorf("recorder (AuditRecorder) is required for NewEngine")
	}
	if opLogger.GetLevel() == zerolog.Disabled {
		opLogger = log.With().Str("component", "workflow_engine").Logger()
	}

	return &engine{
		rules:     rules,
		persister: persister,
		recorder:  recorder,
		logger:    opLogger,
		progress:  computeProgress(rules),
	}, nil
}

// CanTransition reports whether the actor role may move the entity type
// along the requested edge. Pure: a function of its arguments only, no
// state is read or mutated.
func (e *engine) CanTransition(entityType types.EntityType, from, to types.Status, role types.Role) types.TransitionDecision {
	minRole, legal := e.rules.MinimumRoleFor(entityType, from, to)
	if !legal {
		return types.TransitionDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("no such transition: %s %s -> %s", entityType, from, to),
		}
	}
	if !role.AtLeast(minRole) {
		return types.TransitionDecision{
			Allowed: false,
			Reason:  fmt.Sprintf("insufficient role: %s -> %s requires at least %s, actor has %s", from, to, minRole, role),
		}
	}
	return types.TransitionDecision{
		Allowed:          true,
		RequiresApproval: e.rules.RequiresApproval(entityType, from, to),
	}
}

// ExecuteTransition re-validates the request (the status may have changed
// since the caller last checked) and, if allowed, applies the status
// change and records the audit entry. If the persist fails the transition
// failed and no audit entry is written. If the persist succeeds but the
// audit append fails, the transition stands and the divergence is
// surfaced through AuditErr.
func (e *engine) ExecuteTransition(ctx context.Context, req types.TransitionRequest) types.TransitionResult {
	decision := e.CanTransition(req.EntityType, req.CurrentStatus, req.TargetStatus, req.ActorRole)
	if !decision.Allowed {
		e.logger.Debug().
			Str("tenantId", req.TenantID).
			Str("entityType", string(req.EntityType)).
			Str("entityId", req.EntityID).
			Str("from", string(req.CurrentStatus)).
			Str("to", string(req.TargetStatus)).
			Str("actorRole", string(req.ActorRole)).
			Str("reason", decision.Reason).
			Msg("Transition rejected")
		return types.TransitionResult{
			Success: false,
			Err: &ValidationError{
				EntityType: req.EntityType,
				FromStatus: req.CurrentStatus,
				ToStatus:   req.TargetStatus,
				ActorRole:  req.ActorRole,
				Reason:     decision.Reason,
			},
		}
	}

	if err := e.persister.ApplyStatusChange(ctx, req.EntityType, req.EntityID, req.TargetStatus); err != nil {
		return types.TransitionResult{
			Success: false,
			Err: fmt.Errorf("failed to apply status change %s -> %s for %s %s: %w",
				req.CurrentStatus, req.TargetStatus, req.EntityType, req.EntityID, err),
		}
	}

	record := &types.TransitionRecord{
		TenantID:   req.TenantID,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		FromStatus: req.CurrentStatus,
		ToStatus:   req.TargetStatus,
		ActorID:    req.ActorID,
		Comment:    req.Comment,
	}
	if err := e.recorder.RecordTransition(ctx, record); err != nil {
		partial := &PartialTransitionError{
			TenantID:   req.TenantID,
			EntityType: req.EntityType,
			EntityID:   req.EntityID,
			FromStatus: req.CurrentStatus,
			ToStatus:   req.TargetStatus,
			Err:        err,
		}
		e.logger.Error().
			Str("tenantId", req.TenantID).
			Str("entityType", string(req.EntityType)).
			Str("entityId", req.EntityID).
			Str("from", string(req.CurrentStatus)).
			Str("to", string(req.TargetStatus)).
			Err(err).
			Msg("Status changed but audit append failed; trail has diverged")
		return types.TransitionResult{
			Success:   true,
			NewStatus: req.TargetStatus,
			AuditErr:  partial,
		}
	}

	e.logger.Info().
		Str("tenantId", req.TenantID).
		Str("entityType", string(req.EntityType)).
		Str("entityId", req.EntityID).
		Str("from", string(req.CurrentStatus)).
		Str("to", string(req.TargetStatus)).
		Str("actorId", req.ActorID).
		Msg("Transition executed")

	return types.TransitionResult{Success: true, NewStatus: req.TargetStatus}
}

// Progress returns a 0-100 completion percentage for the status, derived
// from the remaining hops to a terminal state. Terminal statuses report
// 100. Not load-bearing for correctness; UI affordance only.
func (e *engine) Progress(entityType types.EntityType, status types.Status) int {
	byStatus, ok := e.progress[entityType]
	if !ok {
		return 0
	}
	pct, ok := byStatus[status]
	if !ok {
		return 0
	}
	return pct
}

// computeProgress derives a percentage per status from the rule graph:
// the shortest hop count to any terminal status, scaled against the
// longest such count in the entity type's machine.
func computeProgress(rules *RuleSet) map[types.EntityType]map[types.Status]int {
	out := make(map[types.EntityType]map[types.Status]int)
	for _, et := range rules.EntityTypes() {
		remaining := remainingHops(rules, et)

		max := 0
		for _, hops := range remaining {
			if hops > max {
				max = hops
			}
		}

		byStatus := make(map[types.Status]int, len(remaining))
		for status, hops := range remaining {
			if max == 0 {
				byStatus[status] = 100
				continue
			}
			byStatus[status] = (max - hops) * 100 / max
		}
		out[et] = byStatus
	}
	return out
}

// remainingHops is a reverse breadth-first walk from the terminal statuses
// of the entity type, giving each status its shortest distance to
// completion.
func remainingHops(rules *RuleSet, entityType types.EntityType) map[types.Status]int {
	// Reverse adjacency: for each status, the statuses that can reach it
	// in one hop.
	incoming := make(map[types.Status][]types.Status)
	for _, status := range rules.Statuses(entityType) {
		for _, target := range rules.AllowedTargets(entityType, status) {
			incoming[target] = append(incoming[target], status)
		}
	}

	hops := make(map[types.Status]int)
	var frontier []types.Status
	for _, status := range rules.Statuses(entityType) {
		if rules.IsTerminal(entityType, status) {
			hops[status] = 0
			frontier = append(frontier, status)
		}
	}

	for len(frontier) > 0 {
		var next []types.Status
		for _, status := range frontier {
			for _, pred := range incoming[status] {
				if _, seen := hops[pred]; seen {
					continue
				}
				hops[pred] = hops[status] + 1
				next = append(next, pred)
			}
		}
		frontier = next
	}
	return hops
}
