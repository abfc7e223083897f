// Package dispatch turns a recognized command verb plus argument text and
// reply context into a generation pipeline invocation and delivers the
// user-facing result.
package dispatch

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"genbot/internal/domain"
	"genbot/internal/metrics"

	"github.com/google/uuid"
)

// Replies are the fixed user-facing reply texts.
type Replies struct {
	Stats          string
	UnknownCommand string
	Failure        string
}

// Command is one dispatchable command extracted from an update.
type Command struct {
	Verb        string
	Args        string // may be empty
	ChatID      int64
	Requester   string
	ReplyTarget *domain.Message // nil when the update was not a reply
}

// Generator runs one addressed generation request and returns the artifact
// path. Satisfied by pipeline.Pipeline.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerationRequest) (string, error)
}

type Dispatcher struct {
	pipeline Generator
	fetcher  domain.MediaFetcher
	sender   domain.Sender
	replies  Replies
	logger   *slog.Logger
}

type Config struct {
	Pipeline Generator
	Fetcher  domain.MediaFetcher
	Sender   domain.Sender
	Replies  Replies
	Logger   *slog.Logger
}

func New(cfg Config) *Dispatcher {
	return &Dispatcher{
		pipeline: cfg.Pipeline,
		fetcher:  cfg.Fetcher,
		sender:   cfg.Sender,
		replies:  cfg.Replies,
		logger:   cfg.Logger,
	}
}

// Dispatch resolves the verb, addresses a generation request when one is
// implied, and replies to the user. Failures never propagate: each exit
// path ends in a user-facing reply or a fixed text.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) {
	switch {
	case strings.EqualFold(cmd.Verb, "/stats"):
		d.logger.Info("stats command", "requester", cmd.Requester)
		d.sender.SendMessage(cmd.ChatID, d.replies.Stats)

	case strings.EqualFold(cmd.Verb, "/image"):
		d.dispatchImage(ctx, cmd)

	case strings.EqualFold(cmd.Verb, "/text"):
		d.dispatchText(ctx, cmd)

	default:
		d.logger.Warn("unknown command", "verb", cmd.Verb, "requester", cmd.Requester)
		d.sender.SendMessage(cmd.ChatID, d.replies.UnknownCommand)
	}
}

func (d *Dispatcher) dispatchImage(ctx context.Context, cmd Command) {
	kind := domain.OpImage
	var payload []byte

	if rt := cmd.ReplyTarget; rt != nil && rt.HasPhoto {
		d.logger.Info("image request with replied media", "requester", cmd.Requester, "request", cmd.Args)
		data, err := d.fetcher.FetchPhoto(ctx, rt.PhotoFileID)
		if err != nil {
			// No request was ever addressed; abort before the pipeline
			// and leave no log entry.
			d.logger.Error("cannot download replied photo", "file_id", rt.PhotoFileID, "err", err)
			metrics.MediaFetchFailures.Inc()
			d.sender.SendMessage(cmd.ChatID, d.replies.Failure)
			return
		}
		kind = domain.OpImageVariation
		payload = data
	} else {
		d.logger.Info("image generation request", "requester", cmd.Requester, "request", cmd.Args)
	}

	artifact, ok := d.generate(ctx, cmd, kind, payload)
	if !ok {
		return
	}
	d.sender.SendPhotoFile(cmd.ChatID, artifact, cmd.Args)
}

func (d *Dispatcher) dispatchText(ctx context.Context, cmd Command) {
	kind := domain.OpTextCompletion
	var payload []byte

	if rt := cmd.ReplyTarget; rt != nil && rt.Text != "" {
		d.logger.Info("text edit request", "requester", cmd.Requester, "request", cmd.Args)
		kind = domain.OpTextEdit
		payload = []byte(rt.Text)
	} else {
		d.logger.Info("text completion request", "requester", cmd.Requester, "request", cmd.Args)
	}

	artifact, ok := d.generate(ctx, cmd, kind, payload)
	if !ok {
		return
	}
	content, err := os.ReadFile(artifact)
	if err != nil {
		d.logger.Error("cannot read text artifact", "artifact", artifact, "err", err)
		d.sender.SendMessage(cmd.ChatID, d.replies.Failure)
		return
	}
	d.sender.SendMessage(cmd.ChatID, string(content))
}

// generate runs the pipeline and converts failure into the generic failure
// reply. The payload buffer is scoped to this call on every path.
func (d *Dispatcher) generate(ctx context.Context, cmd Command, kind domain.OperationKind, payload []byte) (string, bool) {
	req := domain.GenerationRequest{
		ID:        uuid.NewString(),
		Text:      cmd.Args,
		Requester: cmd.Requester,
		Payload:   payload,
		Kind:      kind,
	}

	artifact, err := d.pipeline.Generate(ctx, req)
	if err != nil {
		d.logger.Error("generation failed", "request_id", req.ID, "kind", kind, "err", err)
		d.sender.SendMessage(cmd.ChatID, d.replies.Failure)
		return "", false
	}
	return artifact, true
}
