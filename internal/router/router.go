// Package router classifies inbound updates and routes them to a canned
// reply, the command dispatcher, or a no-op. Each update gets exactly one
// classification, computed once.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"genbot/internal/bus"
	"genbot/internal/dispatch"
	"genbot/internal/domain"
	"genbot/internal/metrics"
)

// Kind is the routing decision for one update.
type Kind int

const (
	Unknown Kind = iota
	Mention
	Command
	ReplyContinuation
	PrivateDefault
	Membership
)

// ContKind distinguishes the two reply-continuation flavors.
type ContKind int

const (
	ContNone ContKind = iota
	ContImage
	ContText
)

// Classification is the tagged decision for one update. Warnings collect
// unrecognized entity kinds seen during the scan; they never fail the
// update.
type Classification struct {
	Kind        Kind
	Verb        string // Command only
	Args        string
	ReplyTarget *domain.Message
	Cont        ContKind            // ReplyContinuation only
	Status      domain.MemberStatus // Membership only
	Warnings    []string
}

// Classify computes the routing decision for an update. selfID is the
// bot's own user id, used to recognize replies to the bot's messages. The
// entity scan is first-match-wins for effects: once a mention or command
// claims the update, later entities only contribute warnings.
func Classify(u *domain.Update, selfID int64) Classification {
	if mu := u.MemberUpdate; mu != nil {
		return Classification{Kind: Membership, Status: mu.NewStatus}
	}

	msg := u.Msg()
	if msg == nil {
		return Classification{Kind: Unknown}
	}

	var c Classification
	if msg.Text != "" {
		if len(msg.Entities) > 0 {
			for _, e := range msg.Entities {
				switch e.Kind {
				case domain.EntityMention:
					if c.Kind == Unknown {
						c.Kind = Mention
					}
				case domain.EntityBotCommand:
					if c.Kind == Unknown {
						c.Kind = Command
						c.Verb = entityText(msg.Text, e)
						c.Args = remainder(msg.Text)
						c.ReplyTarget = msg.ReplyTo
					}
				default:
					c.Warnings = append(c.Warnings, fmt.Sprintf("unknown entity kind %q", e.Kind))
				}
			}
		} else if rt := msg.ReplyTo; rt != nil && rt.From.ID == selfID {
			if rt.HasPhoto {
				c.Kind = ReplyContinuation
				c.Cont = ContImage
				c.Args = msg.Text
				c.ReplyTarget = rt
			} else if rt.Text != "" {
				c.Kind = ReplyContinuation
				c.Cont = ContText
				c.Args = msg.Text
				c.ReplyTarget = rt
			}
		}
	}

	if c.Kind == Unknown && msg.Chat.Kind == domain.ChatPrivate && msg.Text != "" {
		c.Kind = PrivateDefault
		c.Args = msg.Text
		c.ReplyTarget = msg.ReplyTo
	}

	return c
}

// entityText slices the span addressed by an entity, clamping malformed
// offsets instead of panicking.
func entityText(text string, e domain.Entity) string {
	start := e.Offset
	if start < 0 {
		start = 0
	}
	if start > len(text) {
		start = len(text)
	}
	end := start + e.Length
	if e.Length < 0 || end > len(text) {
		end = len(text)
	}
	return text[start:end]
}

// remainder returns everything after the first whitespace-delimited token.
func remainder(text string) string {
	if _, rest, ok := strings.Cut(text, " "); ok {
		return rest
	}
	return ""
}

// Dispatcher is the command half of the pipeline, satisfied by
// dispatch.Dispatcher.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd dispatch.Command)
}

type Config struct {
	SelfID       int64
	Dispatcher   Dispatcher
	Sender       domain.Sender
	MentionReply string
	Bus          *bus.EventBus
	Logger       *slog.Logger
}

type Router struct {
	selfID       int64
	dispatcher   Dispatcher
	sender       domain.Sender
	mentionReply string
	bus          *bus.EventBus
	logger       *slog.Logger
}

func New(cfg Config) *Router {
	return &Router{
		selfID:       cfg.SelfID,
		dispatcher:   cfg.Dispatcher,
		sender:       cfg.Sender,
		mentionReply: cfg.MentionReply,
		bus:          cfg.Bus,
		logger:       cfg.Logger,
	}
}

// Process handles one batch of updates strictly sequentially and returns
// the id of the last update in the batch, or -1 for an empty batch. The
// marker advances past failed updates; no per-update failure aborts the
// loop.
func (r *Router) Process(ctx context.Context, updates []domain.Update) int {
	r.logger.Info("processing update batch", "count", len(updates))

	last := -1
	for i := range updates {
		r.processOne(ctx, &updates[i])
		last = updates[i].ID
	}

	r.logger.Info("last processed update", "update_id", last)
	return last
}

func (r *Router) processOne(ctx context.Context, u *domain.Update) {
	// Catch at the dispatch boundary: a broken update must not take the
	// processing loop down with it.
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("update handling panic", "update_id", u.ID, "panic", rec)
		}
	}()

	c := Classify(u, r.selfID)
	for _, w := range c.Warnings {
		r.logger.Warn("routing warning", "update_id", u.ID, "warning", w)
		metrics.RoutingWarnings.Inc()
		r.emit(bus.EventRoutingWarning, map[string]any{"update_id": u.ID, "warning": w})
	}

	metrics.UpdatesTotal.Inc()

	switch c.Kind {
	case Mention:
		msg := u.Msg()
		r.logger.Info("mention", "update_id", u.ID, "from", msg.From.Username)
		metrics.MentionsTotal.Inc()
		r.sender.ReplyTo(msg.Chat.ID, msg.ID, r.mentionReply)
		r.emit(bus.EventUpdateRouted, map[string]any{"update_id": u.ID, "class": "mention"})

	case Command:
		r.dispatchCommand(ctx, u, c.Verb, c.Args, c.ReplyTarget)

	case ReplyContinuation:
		verb := "/text"
		if c.Cont == ContImage {
			verb = "/image"
		}
		r.dispatchCommand(ctx, u, verb, c.Args, c.ReplyTarget)

	case PrivateDefault:
		r.dispatchCommand(ctx, u, "/text", c.Args, c.ReplyTarget)

	case Membership:
		r.logMembership(u.MemberUpdate)

	default:
		r.logger.Warn("unknown update shape", "update_id", u.ID)
	}
}

func (r *Router) dispatchCommand(ctx context.Context, u *domain.Update, verb, args string, rt *domain.Message) {
	msg := u.Msg()
	metrics.CommandsTotal.Inc()
	r.emit(bus.EventUpdateRouted, map[string]any{"update_id": u.ID, "class": "command", "verb": verb})
	r.dispatcher.Dispatch(ctx, dispatch.Command{
		Verb:        verb,
		Args:        args,
		ChatID:      msg.Chat.ID,
		Requester:   msg.From.Username,
		ReplyTarget: rt,
	})
}

// logMembership records the bot's own membership transition. Observability
// only: no reply, no pipeline call.
func (r *Router) logMembership(mu *domain.MemberUpdate) {
	chatDesc := string(mu.Chat.Kind)
	if mu.Chat.Kind == domain.ChatPrivate {
		chatDesc = "private chat"
	}

	var what string
	switch mu.NewStatus {
	case domain.MemberCreator:
		what = "became the creator of"
	case domain.MemberAdministrator:
		what = "became an administrator of"
	case domain.MemberMember:
		what = "became a member of"
	case domain.MemberRestricted:
		what = "were restricted in"
	case domain.MemberLeft:
		what = "left"
	case domain.MemberKicked:
		what = "were kicked from"
	default:
		what = "changed status in"
	}

	r.logger.Info(fmt.Sprintf("we %s the %s %q", what, chatDesc, mu.Chat.Title), "status", mu.NewStatus)
	r.emit(bus.EventMembershipChanged, map[string]any{
		"status": string(mu.NewStatus),
		"chat":   mu.Chat.Title,
	})
}

func (r *Router) emit(eventType string, payload map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(bus.Event{Type: eventType, Source: "router", Payload: payload})
}
