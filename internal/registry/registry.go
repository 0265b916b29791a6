// Package registry holds the process-lifetime agent catalog and the group
// policy table. Both are built once from configuration and never mutated,
// so lookups need no synchronization.
package registry

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/hxqlab/agentrelay/internal/config"
)

// Agent is one configured backend conversational agent.
type Agent struct {
	ID           string
	APIKey       string
	BaseURL      string
	TriggerWords []string
	WakeupWords  []string
	Description  string
}

// Registry is the immutable agent catalog. Agents keep registration order:
// the config file's order decides who wins a shared wakeup word.
type Registry struct {
	agents []*Agent
	byID   map[string]*Agent

	// wakeupWords holds each distinct wakeup word once, in first-seen order.
	wakeupWords []string
	byWakeup    map[string][]*Agent
}

// New builds the registry from config specs. Duplicate agent names are a
// config error; shared wakeup words are logged and all registrants stay
// usable.
func New(specs []config.AgentSpec) (*Registry, error) {
	r := &Registry{
		byID:     make(map[string]*Agent, len(specs)),
		byWakeup: make(map[string][]*Agent),
	}

	for _, spec := range specs {
		if _, dup := r.byID[spec.Name]; dup {
			return nil, fmt.Errorf("registry: duplicate agent %q", spec.Name)
		}
		a := &Agent{
			ID:           spec.Name,
			APIKey:       spec.APIKey,
			BaseURL:      strings.TrimRight(spec.BaseURL, "/"),
			TriggerWords: append([]string(nil), spec.TriggerWords...),
			WakeupWords:  append([]string(nil), spec.WakeupWords...),
			Description:  spec.Description,
		}
		r.agents = append(r.agents, a)
		r.byID[a.ID] = a

		for _, word := range a.WakeupWords {
			if _, seen := r.byWakeup[word]; !seen {
				r.wakeupWords = append(r.wakeupWords, word)
			}
			r.byWakeup[word] = append(r.byWakeup[word], a)
		}
	}

	for _, word := range r.wakeupWords {
		if owners := r.byWakeup[word]; len(owners) > 1 {
			ids := make([]string, len(owners))
			for i, a := range owners {
				ids[i] = a.ID
			}
			slog.Warn("registry.wakeup_word_shared", "word", word, "agents", strings.Join(ids, ","))
		}
	}
	slog.Info("registry.loaded", "agents", len(r.agents), "wakeup_words", len(r.wakeupWords))

	return r, nil
}

// Lookup returns the agent with the given id.
func (r *Registry) Lookup(id string) (*Agent, bool) {
	a, ok := r.byID[id]
	return a, ok
}

// Agents returns all agents in registration order. Callers must not mutate
// the returned slice.
func (r *Registry) Agents() []*Agent { return r.agents }

// WakeupWords returns every distinct wakeup word in first-registration order.
func (r *Registry) WakeupWords() []string { return r.wakeupWords }

// AgentsForWakeup returns the agents registered under a wakeup word, in
// registration order.
func (r *Registry) AgentsForWakeup(word string) []*Agent { return r.byWakeup[word] }
