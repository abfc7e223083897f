// Package pipeline runs content-addressed generation jobs. Each request is
// addressed by a digest of its text and capture time, executed by an
// injected worker, and audited through the request log exactly once.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"genbot/internal/bus"
	"genbot/internal/domain"
	"genbot/internal/metrics"
	"genbot/internal/requestlog"
)

const (
	requestFileName = "request.txt"
	userFileName    = "user.txt"
)

type Config struct {
	OutputRoot string
	Runner     domain.JobRunner
	RequestLog domain.RequestLog
	Bus        *bus.EventBus
	Logger     *slog.Logger
	Now        func() time.Time // test hook; defaults to time.Now
}

type Pipeline struct {
	outputRoot string
	runner     domain.JobRunner
	requestLog domain.RequestLog
	bus        *bus.EventBus
	logger     *slog.Logger
	now        func() time.Time
}

func New(cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Pipeline{
		outputRoot: cfg.OutputRoot,
		runner:     cfg.Runner,
		requestLog: cfg.RequestLog,
		bus:        cfg.Bus,
		logger:     cfg.Logger,
		now:        cfg.Now,
	}
}

// ContentAddress derives the artifact directory name from the request text
// and its capture time: hex-encoded SHA-256 over text ++ millis. Two calls
// with distinct millisecond timestamps always address distinct directories.
func ContentAddress(text string, capturedAt time.Time) string {
	sum := sha256.Sum256([]byte(text + strconv.FormatInt(capturedAt.UnixMilli(), 10)))
	return hex.EncodeToString(sum[:])
}

// Generate runs one generation request end to end and returns the artifact
// path (output directory plus the kind-specific extension). Exactly one
// request log line is appended per call: the artifact path on success, the
// failure sentinel otherwise.
func (p *Pipeline) Generate(ctx context.Context, req domain.GenerationRequest) (string, error) {
	dir, err := p.Run(ctx, req)
	if err != nil {
		p.requestLog.Append(p.now(), req.Requester, requestlog.FailureSentinel, req.Text)
		metrics.GenerationsFailed.Inc()
		p.emit(bus.EventGenerationFailed, req, "")
		return "", err
	}

	artifact := dir + req.Kind.Extension()
	p.requestLog.Append(p.now(), req.Requester, artifact, req.Text)
	metrics.GenerationsOK.Inc()
	p.emit(bus.EventGenerationSucceeded, req, artifact)
	return artifact, nil
}

// Run executes the addressed job and returns the output directory path.
// Steps, each a hard precondition for the next: address the request, create
// a fresh output directory, persist the audit files, run the worker. On any
// failure after directory creation the directory is deleted (best effort)
// and the error wraps domain.ErrGenerationFailed.
func (p *Pipeline) Run(ctx context.Context, req domain.GenerationRequest) (string, error) {
	capturedAt := p.now()
	addr := ContentAddress(req.Text, capturedAt)
	dir := filepath.Join(p.outputRoot, addr)

	if err := os.MkdirAll(p.outputRoot, 0o755); err != nil {
		return "", fmt.Errorf("create output root %s: %v: %w", p.outputRoot, err, domain.ErrGenerationFailed)
	}
	// os.Mkdir, not MkdirAll: an already existing directory is an address
	// collision and a hard, non-retried failure.
	if err := os.Mkdir(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output directory %s: %v: %w", dir, err, domain.ErrGenerationFailed)
	}

	if err := p.saveRequestAttributes(dir, req); err != nil {
		p.deleteOutputDirectory(dir)
		return "", fmt.Errorf("%v: %w", err, domain.ErrGenerationFailed)
	}

	p.logger.Info("running generation job",
		"request_id", req.ID,
		"kind", req.Kind,
		"requester", req.Requester,
		"dir", dir,
	)

	start := time.Now()
	err := p.runner.Run(ctx, dir, req)
	metrics.WorkerLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		p.deleteOutputDirectory(dir)
		return "", fmt.Errorf("worker: %v: %w", err, domain.ErrGenerationFailed)
	}

	return dir, nil
}

// saveRequestAttributes persists the request text and requester identity
// next to the artifact for offline audit.
func (p *Pipeline) saveRequestAttributes(dir string, req domain.GenerationRequest) error {
	if err := os.WriteFile(filepath.Join(dir, requestFileName), []byte(req.Text), 0o644); err != nil {
		return fmt.Errorf("save request text: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, userFileName), []byte(req.Requester), 0o644); err != nil {
		return fmt.Errorf("save requester: %v", err)
	}
	return nil
}

// deleteOutputDirectory removes a failed job's directory. A deletion
// failure is only a warning; the generation failure still propagates.
func (p *Pipeline) deleteOutputDirectory(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		p.logger.Warn("cannot delete output directory", "dir", dir, "err", err)
		return
	}
	p.logger.Info("deleted output directory after failed generation", "dir", dir)
}

func (p *Pipeline) emit(eventType string, req domain.GenerationRequest, artifact string) {
	if p.bus == nil {
		return
	}
	p.bus.Emit(bus.Event{
		Type:   eventType,
		Source: "pipeline",
		Payload: map[string]any{
			"request_id": req.ID,
			"requester":  req.Requester,
			"kind":       string(req.Kind),
			"artifact":   artifact,
		},
	})
}
