package registry

import (
	"log/slog"

	"github.com/hxqlab/agentrelay/internal/config"
)

// GroupPolicy is one group configuration covering a set of group chats.
type GroupPolicy struct {
	Name string
	// AllowedAgents lists permitted agent ids; the first entry is the
	// group default.
	AllowedAgents []string
	LiaisonIDs    []string
	CommandTip    string

	allowed map[string]bool
}

// Permits reports whether the agent id appears in this policy's allow list.
func (p *GroupPolicy) Permits(agentID string) bool { return p.allowed[agentID] }

// DefaultAgent returns the first allowed agent id, or "" when the list is
// empty.
func (p *GroupPolicy) DefaultAgent() string {
	if len(p.AllowedAgents) == 0 {
		return ""
	}
	return p.AllowedAgents[0]
}

// PolicyTable maps group ids to their policy. Immutable after load.
type PolicyTable struct {
	byGroup   map[string]*GroupPolicy
	globalTip string
}

// NewPolicyTable builds the table from config specs. A group id claimed by
// two specs keeps its first registration; the conflict is logged, never
// silently overwritten.
func NewPolicyTable(specs []config.GroupSpec, globalTip string) *PolicyTable {
	t := &PolicyTable{
		byGroup:   make(map[string]*GroupPolicy),
		globalTip: globalTip,
	}

	for _, spec := range specs {
		tip := spec.CommandTip
		if tip == "" {
			tip = globalTip
		}
		p := &GroupPolicy{
			Name:          spec.Name,
			AllowedAgents: append([]string(nil), spec.AllowedAgents...),
			LiaisonIDs:    append([]string(nil), spec.LiaisonIDs...),
			CommandTip:    tip,
			allowed:       make(map[string]bool, len(spec.AllowedAgents)),
		}
		for _, id := range spec.AllowedAgents {
			p.allowed[id] = true
		}

		for _, gid := range spec.GroupIDs {
			if prev, taken := t.byGroup[gid]; taken {
				slog.Warn("policy.group_conflict",
					"group", gid, "kept", prev.Name, "ignored", spec.Name)
				continue
			}
			t.byGroup[gid] = p
		}
	}
	slog.Info("policy.loaded", "groups", len(t.byGroup))

	return t
}

// For returns the policy registered for a group id.
func (t *PolicyTable) For(groupID string) (*GroupPolicy, bool) {
	p, ok := t.byGroup[groupID]
	return p, ok
}

// Allows reports whether an agent is usable in the given scope.
// Private scope (empty group id) is unrestricted; a group without a policy
// permits nothing.
func (t *PolicyTable) Allows(groupID, agentID string) bool {
	if groupID == "" {
		return true
	}
	p, ok := t.byGroup[groupID]
	if !ok {
		return false
	}
	return p.Permits(agentID)
}

// DefaultAgent returns the group's default agent id (first of its allow
// list). Returns "" when the group has no policy or an empty list.
func (t *PolicyTable) DefaultAgent(groupID string) string {
	p, ok := t.byGroup[groupID]
	if !ok {
		return ""
	}
	return p.DefaultAgent()
}

// HelpText returns the group's help text, falling back to the global tip
// for unknown groups and private chats.
func (t *PolicyTable) HelpText(groupID string) string {
	if p, ok := t.byGroup[groupID]; ok && p.CommandTip != "" {
		return p.CommandTip
	}
	return t.globalTip
}

// Liaisons returns the liaison identities configured for a group.
func (t *PolicyTable) Liaisons(groupID string) []string {
	p, ok := t.byGroup[groupID]
	if !ok {
		return nil
	}
	return p.LiaisonIDs
}
