// Package relay is the message pipeline: dedup, attachment staging, routing,
// command handling, the agent exchange, and reply emission.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hxqlab/agentrelay/internal/attachments"
	"github.com/hxqlab/agentrelay/internal/config"
	"github.com/hxqlab/agentrelay/internal/dedup"
	"github.com/hxqlab/agentrelay/internal/dify"
	"github.com/hxqlab/agentrelay/internal/registry"
	"github.com/hxqlab/agentrelay/internal/routing"
	"github.com/hxqlab/agentrelay/internal/session"
	"github.com/hxqlab/agentrelay/pkg/protocol"
)

// Sink receives outbound replies. The gateway's broadcast hub implements it.
type Sink interface {
	Send(reply protocol.OutboundReply)
}

// Dispatcher runs the full pipeline for each inbound message.
type Dispatcher struct {
	cfg      *config.Config
	reg      *registry.Registry
	policies *registry.PolicyTable
	engine   *routing.Engine
	sessions *session.Manager
	window   *dedup.Window
	cache    *attachments.Cache
	sink     Sink
}

// NewDispatcher wires the pipeline.
func NewDispatcher(cfg *config.Config, reg *registry.Registry, policies *registry.PolicyTable, engine *routing.Engine, sessions *session.Manager, window *dedup.Window, cache *attachments.Cache, sink Sink) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		reg:      reg,
		policies: policies,
		engine:   engine,
		sessions: sessions,
		window:   window,
		cache:    cache,
		sink:     sink,
	}
}

// Submit processes a message on its own goroutine so a slow agent exchange
// never blocks ingress.
func (d *Dispatcher) Submit(ctx context.Context, msg *protocol.InboundMessage) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("relay.panic", "msg", msg.ID, "panic", r)
			}
		}()
		d.handle(ctx, msg)
	}()
}

func (d *Dispatcher) handle(ctx context.Context, msg *protocol.InboundMessage) {
	if d.window.IsDuplicate(msg.ID) {
		slog.Debug("relay.duplicate", "msg", msg.ID)
		return
	}
	d.window.MarkProcessed(msg.ID)

	if msg.Attachment != nil {
		d.cache.Put(msg.Sender, attachments.Entry{
			Data:     msg.Attachment.Data,
			Filename: msg.Attachment.Filename,
			MimeType: msg.Attachment.MimeType,
			Kind:     msg.Attachment.Kind,
		})
		// The attachment waits in the cache for the message that references
		// it. Without text there is nothing to route yet.
		if strings.TrimSpace(msg.Text) == "" {
			return
		}
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	dec := d.engine.Route(text, msg.Sender, msg.Group)

	if dec.Switched {
		d.reply(msg, protocol.ReplyNotice, fmt.Sprintf("已切换到智能体 [%s]。", dec.Agent.ID))
		return
	}

	// Commands answer even where no agent is resolvable, so /help works in
	// a group the policy table does not know.
	if d.runCommand(ctx, msg, dec) {
		return
	}

	if dec.Agent == nil {
		slog.Debug("relay.unrouted", "sender", msg.Sender, "group", msg.Group)
		return
	}

	// Groups always require being addressed; private chats follow config.
	if !dec.Wakeup {
		if msg.IsGroup() || d.cfg.NeedsWakeupInPrivate {
			return
		}
	}
	if strings.TrimSpace(dec.Query) == "" {
		return
	}

	files := d.prepareFiles(ctx, msg.Sender, dec.Agent)

	res, err := d.sessions.Exchange(ctx, dec.Agent, msg.ConversationKey(), msg.Sender, dec.Query, files)
	if err != nil {
		notice := "服务暂时不可用，请稍后再试。"
		if f, ok := err.(*session.Failure); ok {
			notice = f.Notice
		}
		out := protocol.OutboundReply{To: msg.ConversationKey(), Kind: protocol.ReplyNotice, Text: notice}
		if msg.IsGroup() {
			// Pull in the group's human liaisons so someone can step in.
			out.Mentions = append([]string{msg.Sender}, d.policies.Liaisons(msg.Group)...)
		}
		d.sink.Send(out)
		return
	}

	answer := res.Answer
	if !msg.IsGroup() && d.cfg.ReplyTitle != "" {
		answer = d.cfg.ReplyTitle + "\n" + answer
	}
	out := protocol.OutboundReply{
		To:    msg.ConversationKey(),
		Kind:  protocol.ReplyAnswer,
		Text:  answer,
		Voice: d.cfg.VoiceReplyAll,
	}
	if msg.IsGroup() {
		out.Mentions = []string{msg.Sender}
	}
	for _, f := range res.Files {
		out.Files = append(out.Files, protocol.OutboundFile{ID: f.ID, URL: f.URL, Type: f.Type})
	}
	d.sink.Send(out)
}

// prepareFiles uploads the sender's cached attachment, if any. The entry is
// consumed only on a successful upload; failures keep it cached and the
// exchange proceeds text-only.
func (d *Dispatcher) prepareFiles(ctx context.Context, user string, agent *registry.Agent) []dify.FileRef {
	entry, ok := d.cache.Get(user)
	if !ok {
		return nil
	}

	data := entry.Data
	if entry.Kind == "image" {
		normalized, err := attachments.NormalizeImage(data)
		if err != nil {
			slog.Warn("relay.normalize_failed", "user", user, "err", err)
			return nil
		}
		data = normalized
	}

	client := dify.NewClient(agent.APIKey, agent.BaseURL)
	up, err := client.UploadFile(ctx, user, entry.Filename, entry.MimeType, data)
	if err != nil {
		slog.Warn("relay.upload_failed", "user", user, "agent", agent.ID, "err", err)
		return nil
	}
	d.cache.Consume(user)

	kind := up.Type
	if kind == "" {
		kind = dify.KindForFile(entry.Filename, entry.MimeType)
	}
	return []dify.FileRef{{
		Type:           kind,
		TransferMethod: "local_file",
		UploadFileID:   up.ID,
	}}
}

func (d *Dispatcher) reply(msg *protocol.InboundMessage, kind, text string) {
	out := protocol.OutboundReply{To: msg.ConversationKey(), Kind: kind, Text: text}
	if msg.IsGroup() {
		out.Mentions = []string{msg.Sender}
	}
	d.sink.Send(out)
}
