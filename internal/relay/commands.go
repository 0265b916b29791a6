package relay

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hxqlab/agentrelay/internal/registry"
	"github.com/hxqlab/agentrelay/internal/routing"
	"github.com/hxqlab/agentrelay/pkg/protocol"
)

// runCommand handles built-in slash commands. Returns true when the message
// was a command and has been fully answered.
func (d *Dispatcher) runCommand(ctx context.Context, msg *protocol.InboundMessage, dec routing.Decision) bool {
	switch strings.TrimSpace(dec.Query) {
	case "/help", "/帮助":
		d.reply(msg, protocol.ReplyNotice, d.policies.HelpText(msg.Group))
		return true

	case "/list", "/智能体":
		current := d.engine.CurrentAgent(msg.Sender, msg.Group)
		d.reply(msg, protocol.ReplyNotice,
			registry.RenderCatalog(d.reg, d.policies, msg.Group, current))
		return true

	case "/重置会话", "/reset":
		d.resetConversation(ctx, msg, dec.Agent)
		return true
	}
	return false
}

// resetConversation drops the active conversation so the next message starts
// fresh. agent may be nil when the scope resolves none; the stored id is
// still cleared.
func (d *Dispatcher) resetConversation(ctx context.Context, msg *protocol.InboundMessage, agent *registry.Agent) {
	key := msg.ConversationKey()
	if err := d.sessions.Reset(ctx, agent, key, msg.Sender); err != nil {
		slog.Warn("relay.reset_failed", "key", key, "err", err)
		d.reply(msg, protocol.ReplyNotice, "会话重置失败，请稍后再试。")
		return
	}
	agentID := ""
	if agent != nil {
		agentID = agent.ID
	}
	slog.Info("relay.reset", "key", key, "agent", agentID)
	d.reply(msg, protocol.ReplyNotice, "会话已重置，我们可以重新开始对话了。")
}
