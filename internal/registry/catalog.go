package registry

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"
)

// catalog labels; runewidth-padded so CJK word lists line up.
var catalogLabels = []string{"唤醒词", "触发词", "描述"}

// RenderCatalog lists the agents usable in the given scope, one numbered
// block per agent, ending with the caller's current default. Mirrors the
// /list command output.
func RenderCatalog(reg *Registry, policies *PolicyTable, groupID, currentAgent string) string {
	var agents []*Agent
	if groupID == "" {
		agents = reg.Agents()
	} else {
		p, ok := policies.For(groupID)
		if !ok {
			return policies.HelpText(groupID)
		}
		for _, id := range p.AllowedAgents {
			if a, found := reg.Lookup(id); found {
				agents = append(agents, a)
			}
		}
	}

	labelWidth := 0
	for _, l := range catalogLabels {
		if w := runewidth.StringWidth(l); w > labelWidth {
			labelWidth = w
		}
	}
	pad := func(label string) string {
		return runewidth.FillRight(label, labelWidth)
	}

	var b strings.Builder
	for i, a := range agents {
		fmt.Fprintf(&b, "%d. 智能体: [%s]\n", i+1, a.ID)
		fmt.Fprintf(&b, "%s: %s\n", pad(catalogLabels[0]), strings.Join(a.WakeupWords, ", "))
		fmt.Fprintf(&b, "%s: %s\n", pad(catalogLabels[1]), strings.Join(a.TriggerWords, ", "))
		fmt.Fprintf(&b, "%s: %s\n\n", pad(catalogLabels[2]), a.Description)
	}
	b.WriteString("输入相应智能体的'触发词 切换'可以切换默认智能体。\n\n")
	if currentAgent != "" {
		fmt.Fprintf(&b, "您当前默认的智能体：\n[%s]\n", currentAgent)
	}
	return b.String()
}
