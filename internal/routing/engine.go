// Package routing decides which agent handles a message. Resolution is a
// fixed priority ladder: explicit switch, wakeup word, trigger word,
// remembered preference, scope default. The engine mutates nothing but the
// preference store, and only on an explicit switch.
package routing

import (
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hxqlab/agentrelay/internal/prefs"
	"github.com/hxqlab/agentrelay/internal/registry"
)

// Decision is the outcome of routing one message.
type Decision struct {
	// Agent is the resolved agent, or nil when no agent may answer.
	Agent *registry.Agent
	// Query is the text to forward. Wakeup and trigger matches strip the
	// matched word; every other outcome forwards the text untouched.
	Query string
	// Switched marks an explicit switch command. The caller confirms
	// instead of forwarding.
	Switched bool
	// Wakeup marks that the message named the agent directly, either by
	// wakeup word or trigger word.
	Wakeup bool
}

// Engine resolves messages against the agent catalog and group policies.
type Engine struct {
	reg      *registry.Registry
	policies *registry.PolicyTable
	prefs    *prefs.Store

	defaultAgent string
	switchSuffix string
	remember     bool
}

// NewEngine wires a routing engine. defaultAgent is the process-wide private
// chat default; switchSuffix is matched case-insensitively at end of text.
func NewEngine(reg *registry.Registry, policies *registry.PolicyTable, store *prefs.Store, defaultAgent, switchSuffix string, remember bool) *Engine {
	return &Engine{
		reg:          reg,
		policies:     policies,
		prefs:        store,
		defaultAgent: defaultAgent,
		switchSuffix: strings.ToLower(switchSuffix),
		remember:     remember,
	}
}

// Route resolves one message. group is empty for private chats.
func (e *Engine) Route(text, user, group string) Decision {
	lowered := strings.ToLower(text)

	if e.switchSuffix != "" && strings.HasSuffix(lowered, e.switchSuffix) {
		if d, ok := e.routeSwitch(text, lowered, user, group); ok {
			return d
		}
		// No trigger matched the switch phrase. Fall through so the text
		// still reaches the ladder below as an ordinary message.
		slog.Warn("route.switch_unmatched", "user", user, "group", group)
	}

	if d, ok := e.routeWakeup(text, group); ok {
		return d
	}
	if d, ok := e.routeTrigger(text, lowered, group); ok {
		return d
	}
	if d, ok := e.routeDefault(text, user, group); ok {
		return d
	}
	return Decision{Query: text}
}

// routeSwitch handles "<trigger><suffix>" switch commands. The first agent
// in registration order whose trigger word prefixes the message wins.
func (e *Engine) routeSwitch(text, lowered, user, group string) (Decision, bool) {
	for _, a := range e.reg.Agents() {
		for _, trigger := range a.TriggerWords {
			if !strings.HasPrefix(lowered, strings.ToLower(trigger)) {
				continue
			}
			if !e.policies.Allows(group, a.ID) {
				continue
			}
			if e.remember {
				e.prefs.Set(user, group, a.ID)
			}
			slog.Info("route.switch", "user", user, "group", group, "agent", a.ID)
			return Decision{Agent: a, Query: text, Switched: true}, true
		}
	}
	return Decision{}, false
}

// routeWakeup matches wakeup words at the start of the message or preceded
// by a space. Words are scanned in first-registration order; a shared word
// resolves to the first registered agent permitted in scope.
func (e *Engine) routeWakeup(text, group string) (Decision, bool) {
	for _, word := range e.reg.WakeupWords() {
		start, length := wakeupSpan(text, word)
		if start < 0 {
			continue
		}

		for _, a := range e.reg.AgentsForWakeup(word) {
			if !e.policies.Allows(group, a.ID) {
				continue
			}
			query := strings.TrimSpace(text[:start] + text[start+length:])
			slog.Info("route.wakeup", "agent", a.ID, "word", word)
			return Decision{Agent: a, Query: query, Wakeup: true}, true
		}
	}
	return Decision{}, false
}

// routeTrigger matches trigger words anywhere in the message. The literal
// trigger has its first occurrence stripped; a match that only holds under
// case folding forwards the text untouched.
func (e *Engine) routeTrigger(text, lowered, group string) (Decision, bool) {
	for _, a := range e.reg.Agents() {
		for _, trigger := range a.TriggerWords {
			if !strings.Contains(lowered, strings.ToLower(trigger)) {
				continue
			}
			if !e.policies.Allows(group, a.ID) {
				continue
			}
			query := text
			if idx := strings.Index(text, trigger); idx >= 0 {
				query = strings.TrimSpace(text[:idx] + text[idx+len(trigger):])
			}
			slog.Info("route.trigger", "agent", a.ID, "word", trigger)
			return Decision{Agent: a, Query: query, Wakeup: true}, true
		}
	}
	return Decision{}, false
}

// wakeupSpan locates the first case-insensitive occurrence of word at the
// start of text or immediately after a space, returning its byte span in
// text itself. Offsets never come from a case-folded copy: folding can
// change byte lengths.
func wakeupSpan(text, word string) (start, length int) {
	if l := foldPrefixLen(text, word); l >= 0 {
		return 0, l
	}
	for i := 0; i < len(text); i++ {
		if text[i] != ' ' {
			continue
		}
		if l := foldPrefixLen(text[i+1:], word); l >= 0 {
			return i + 1, l
		}
	}
	return -1, 0
}

// foldPrefixLen returns the byte length of the prefix of s that matches
// word rune-by-rune under simple case folding, or -1 when s does not start
// with word.
func foldPrefixLen(s, word string) int {
	n := 0
	for _, wr := range word {
		r, size := utf8.DecodeRuneInString(s[n:])
		if size == 0 {
			return -1
		}
		if r != wr && unicode.ToLower(r) != unicode.ToLower(wr) {
			return -1
		}
		n += size
	}
	return n
}

// routeDefault resolves the remembered preference, then the scope default.
func (e *Engine) routeDefault(text, user, group string) (Decision, bool) {
	if e.remember {
		if id, ok := e.prefs.Get(user, group); ok {
			if a, found := e.reg.Lookup(id); found && e.policies.Allows(group, a.ID) {
				return Decision{Agent: a, Query: text}, true
			}
		}
	}

	var id string
	if group != "" {
		id = e.policies.DefaultAgent(group)
	} else {
		id = e.defaultAgent
	}
	if id == "" {
		return Decision{}, false
	}
	a, found := e.reg.Lookup(id)
	if !found || !e.policies.Allows(group, a.ID) {
		return Decision{}, false
	}
	return Decision{Agent: a, Query: text}, true
}

// CurrentAgent reports the agent id that would answer a plain message from
// (user, group) right now. Used by the catalog command.
func (e *Engine) CurrentAgent(user, group string) string {
	if d, ok := e.routeDefault("", user, group); ok {
		return d.Agent.ID
	}
	return ""
}

// ClearPreference drops the remembered preference for (user, group).
func (e *Engine) ClearPreference(user, group string) bool {
	return e.prefs.Clear(user, group)
}
