// Package workflow implements the role-gated entity workflow engine: a
// declarative transition rule table and the state machine driver through
// which all entity status changes flow.
package workflow

import (
	"fmt"
	"io"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/clearfirm/compliance-module-audit/types"
)

// RuleSet is the static lookup table answering "is transition (entityType,
// from, to) legal, and for whom". It is process-wide configuration: built
// or loaded once at startup, validated, and never mutated afterwards.
type RuleSet struct {
	// outgoing indexes rules by entity type and from-status.
	outgoing map[types.EntityType]map[types.Status][]types.TransitionRule
	// terminal holds the statuses declared terminal per entity type.
	terminal map[types.EntityType]map[types.Status]bool
}

// NewRuleSet builds a rule set from explicit rules and terminal status
// declarations, and runs the startup consistency check.
func NewRuleSet(rules []types.TransitionRule, terminal map[types.EntityType][]types.Status) (*RuleSet, error) {
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	rs := &RuleSet{
		outgoing: make(map[types.EntityType]map[types.Status][]types.TransitionRule),
		terminal: make(map[types.EntityType]map[types.Status]bool),
	}

	for et, statuses := range terminal {
		rs.terminal[et] = make(map[types.Status]bool, len(statuses))
		for _, st := range statuses {
			rs.terminal[et][st] = true
		}
	}

	for _, rule := range rules {
		if err := checkRule(rule); err != nil {
			return nil, err
		}
		byFrom, ok := rs.outgoing[rule.EntityType]
		if !ok {
			byFrom = make(map[types.Status][]types.TransitionRule)
			rs.outgoing[rule.EntityType] = byFrom
		}
		for _, existing := range byFrom[rule.FromStatus] {
			if existing.ToStatus == rule.ToStatus {
				return nil, fmt.Errorf("%w: duplicate edge %s %s -> %s",
					ErrRuleConfig, rule.EntityType, rule.FromStatus, rule.ToStatus)
			}
		}
		byFrom[rule.FromStatus] = append(byFrom[rule.FromStatus], rule)
	}

	if err := rs.validate(); err != nil {
		return nil, err
	}
	return rs, nil
}

func checkRule(rule types.TransitionRule) error {
	if rule.EntityType == "" || rule.FromStatus == "" || rule.ToStatus == "" {
		return fmt.Errorf("%w: rule with empty entity type or status", ErrRuleConfig)
	}
	if rule.FromStatus == rule.ToStatus {
		return fmt.Errorf("%w: self-loop %s %s", ErrRuleConfig, rule.EntityType, rule.FromStatus)
	}
	if !rule.MinimumRole.IsValid() {
		return fmt.Errorf("%w: unknown role %q on edge %s %s -> %s",
			ErrRuleConfig, rule.MinimumRole, rule.EntityType, rule.FromStatus, rule.ToStatus)
	}
	return nil
}

// validate is the startup assertion over the assembled table: declared
// terminal statuses have no outgoing edges, and every other status
// appearing in the table has at least one. An orphan non-terminal status
// is a configuration defect caught here, not a runtime error.
func (rs *RuleSet) validate() error {
	for et, byFrom := range rs.outgoing {
		for from := range byFrom {
			if rs.terminal[et][from] {
				return fmt.Errorf("%w: terminal status %s %s has outgoing edges", ErrRuleConfig, et, from)
			}
		}
		for _, status := range rs.statuses(et) {
			if rs.terminal[et][status] {
				continue
			}
			if len(byFrom[status]) == 0 {
				return fmt.Errorf("%w: status %s %s has no outgoing edges and is not marked terminal",
					ErrRuleConfig, et, status)
			}
		}
		if len(rs.terminal[et]) == 0 {
			return fmt.Errorf("%w: entity type %s declares no terminal status", ErrRuleConfig, et)
		}
	}
	return nil
}

// statuses returns every status mentioned by the entity type's table,
// sorted for deterministic iteration.
func (rs *RuleSet) statuses(entityType types.EntityType) []types.Status {
	seen := make(map[types.Status]bool)
	for from, rules := range rs.outgoing[entityType] {
		seen[from] = true
		for _, rule := range rules {
			seen[rule.ToStatus] = true
		}
	}
	out := make([]types.Status, 0, len(seen))
	for st := range seen {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EntityTypes returns the entity types the table covers, sorted.
func (rs *RuleSet) EntityTypes() []types.EntityType {
	out := make([]types.EntityType, 0, len(rs.outgoing))
	for et := range rs.outgoing {
		out = append(out, et)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Statuses returns every status of the entity type's state machine.
func (rs *RuleSet) Statuses(entityType types.EntityType) []types.Status {
	return rs.statuses(entityType)
}

// IsLegal reports whether the edge exists in the table, independent of
// actor role.
func (rs *RuleSet) IsLegal(entityType types.EntityType, from, to types.Status) bool {
	_, ok := rs.lookup(entityType, from, to)
	return ok
}

// MinimumRoleFor returns the lowest role permitted to execute the edge.
// The second return value is false when the edge itself is illegal.
func (rs *RuleSet) MinimumRoleFor(entityType types.EntityType, from, to types.Status) (types.Role, bool) {
	rule, ok := rs.lookup(entityType, from, to)
	if !ok {
		return "", false
	}
	return rule.MinimumRole, true
}

// RequiresApproval reports whether the edge is additionally gated by an
// external approval step. False for illegal edges.
func (rs *RuleSet) RequiresApproval(entityType types.EntityType, from, to types.Status) bool {
	rule, ok := rs.lookup(entityType, from, to)
	return ok && rule.RequiresApproval
}

// AllowedTargets returns the full set of next legal statuses from the
// given status, independent of actor role, sorted.
func (rs *RuleSet) AllowedTargets(entityType types.EntityType, from types.Status) []types.Status {
	rules := rs.outgoing[entityType][from]
	out := make([]types.Status, 0, len(rules))
	for _, rule := range rules {
		out = append(out, rule.ToStatus)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// IsTerminal reports whether the status has no legal outgoing transitions
// for the entity type.
func (rs *RuleSet) IsTerminal(entityType types.EntityType, status types.Status) bool {
	return len(rs.outgoing[entityType][status]) == 0
}

// InitialStatuses returns the statuses with no incoming edges, sorted.
func (rs *RuleSet) InitialStatuses(entityType types.EntityType) []types.Status {
	incoming := make(map[types.Status]bool)
	for _, rules := range rs.outgoing[entityType] {
		for _, rule := range rules {
			incoming[rule.ToStatus] = true
		}
	}
	var out []types.Status
	for _, status := range rs.statuses(entityType) {
		if !incoming[status] {
			out = append(out, status)
		}
	}
	return out
}

func (rs *RuleSet) lookup(entityType types.EntityType, from, to types.Status) (types.TransitionRule, bool) {
	for _, rule := range rs.outgoing[entityType][from] {
		if rule.ToStatus == to {
			return rule, true
		}
	}
	return types.TransitionRule{}, false
}

// YAML rule configuration

type ruleFile struct {
	EntityTypes map[string]entityRuleConfig `yaml:"entity_types" validate:"required,min=1,dive"`
}

type entityRuleConfig struct {
	Terminal    []string           `yaml:"terminal" validate:"required,min=1,dive,required"`
	Transitions []transitionConfig `yaml:"transitions" validate:"required,min=1,dive"`
}

type transitionConfig struct {
	From             string `yaml:"from" validate:"required"`
	To               string `yaml:"to" validate:"required"`
	MinimumRole      string `yaml:"minimum_role" validate:"required"`
	RequiresApproval bool   `yaml:"requires_approval"`
}

// LoadRuleSet reads a YAML rule table, validates its structure and builds
// a RuleSet from it. Host platforms use this to override the compiled-in
// default table at startup.
func LoadRuleSet(r io.Reader) (*RuleSet, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule configuration: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleConfig, err)
	}
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRuleConfig, err)
	}

	var rules []types.TransitionRule
	terminal := make(map[types.EntityType][]types.Status)
	for name, cfg := range file.EntityTypes {
		et := types.EntityType(name)
		for _, st := range cfg.Terminal {
			terminal[et] = append(terminal[et], types.Status(st))
		}
		for _, tc := range cfg.Transitions {
			rules = append(rules, types.TransitionRule{
				EntityType:       et,
				FromStatus:       types.Status(tc.From),
				ToStatus:         types.Status(tc.To),
				MinimumRole:      types.Role(tc.MinimumRole),
				RequiresApproval: tc.RequiresApproval,
			})
		}
	}

	return NewRuleSet(rules, terminal)
}

// DefaultRuleSet returns the compiled-in rule table for the standard
// document and engagement workflows.
func DefaultRuleSet() *RuleSet {
	rules := []types.TransitionRule{
		// Document review workflow. A rejected document goes back to
		// draft for rework; an approved one is archived.
		{EntityType: types.EntityDocument, FromStatus: types.StatusDraft, ToStatus: types.StatusSubmitted, MinimumRole: types.RoleAssociate},
		{EntityType: types.EntityDocument, FromStatus: types.StatusSubmitted, ToStatus: types.StatusUnderReview, MinimumRole: types.RoleSenior},
		{EntityType: types.EntityDocument, FromStatus: types.StatusUnderReview, ToStatus: types.StatusApproved, MinimumRole: types.RoleManager, RequiresApproval: true},
		{EntityType: types.EntityDocument, FromStatus: types.StatusUnderReview, ToStatus: types.StatusRejected, MinimumRole: types.RoleManager},
		{EntityType: types.EntityDocument, FromStatus: types.StatusRejected, ToStatus: types.StatusDraft, MinimumRole: types.RoleAssociate},
		{EntityType: types.EntityDocument, FromStatus: types.StatusApproved, ToStatus: types.StatusArchived, MinimumRole: types.RoleSenior},

		// Engagement lifecycle.
		{EntityType: types.EntityEngagement, FromStatus: types.StatusPlanned, ToStatus: types.StatusActive, MinimumRole: types.RoleManager},
		{EntityType: types.EntityEngagement, FromStatus: types.StatusActive, ToStatus: types.StatusFieldwork, MinimumRole: types.RoleAssociate},
		{EntityType: types.EntityEngagement, FromStatus: types.StatusActive, ToStatus: types.StatusOnHold, MinimumRole: types.RoleManager},
		{EntityType: types.EntityEngagement, FromStatus: types.StatusOnHold, ToStatus: types.StatusActive, MinimumRole: types.RoleManager},
		{EntityType: types.EntityEngagement, FromStatus: types.StatusFieldwork, ToStatus: types.StatusPartnerSign, MinimumRole: types.RoleManager},
		{EntityType: types.EntityEngagement, FromStatus: types.StatusPartnerSign, ToStatus: types.StatusFiled, MinimumRole: types.RolePartner, RequiresApproval: true},
		{EntityType: types.EntityEngagement, FromStatus: types.StatusFiled, ToStatus: types.StatusClosed, MinimumRole: types.RoleManager},
	}
	terminal := map[types.EntityType][]types.Status{
		types.EntityDocument:   {types.StatusArchived},
		types.EntityEngagement: {types.StatusClosed},
	}

	rs, err := NewRuleSet(rules, terminal)
	if err != nil {
		// The default table is covered by tests; failing to build it is
		// a programming error.
		panic(fmt.Sprintf("default rule set is invalid: %v", err))
	}
	return rs
}
