package worker

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"genbot/internal/domain"
)

// ScriptRunner runs generation jobs as external interpreter processes. The
// worker contract: positional/flag arguments carry the output directory,
// credentials, requester, and request text; an optional payload arrives on
// stdin; diagnostics stream on stdout/stderr; exit code 0 means the
// artifact is in place.
type ScriptRunner struct {
	scriptDir string
	manifest  Manifest
	creds     domain.Credentials
	logger    *slog.Logger
	scriptLog *slog.Logger
}

type ScriptConfig struct {
	ScriptDir   string
	Manifest    Manifest
	Credentials domain.Credentials
	Logger      *slog.Logger
}

func NewScriptRunner(cfg ScriptConfig) *ScriptRunner {
	return &ScriptRunner{
		scriptDir: cfg.ScriptDir,
		manifest:  cfg.Manifest,
		creds:     cfg.Credentials,
		logger:    cfg.Logger,
		scriptLog: cfg.Logger.With("source", "script"),
	}
}

func (r *ScriptRunner) Run(ctx context.Context, outputDir string, req domain.GenerationRequest) error {
	script, ok := r.manifest.Script(req.Kind)
	if !ok {
		return fmt.Errorf("no worker script for operation %q", req.Kind)
	}

	args := []string{
		filepath.Join(r.scriptDir, script),
		"--output", outputDir,
		"--api-key", r.creds.APIKey,
		"--organization", r.creds.Organization,
		"--request", req.Text,
		"--user", req.Requester,
	}
	r.logger.Info("executing worker", "interpreter", r.manifest.Interpreter, "script", script, "request_id", req.ID)

	cmd := exec.CommandContext(ctx, r.manifest.Interpreter, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker stdout pipe: %w", err)
	}
	// Merge stderr into the stdout stream, same as redirecting the error
	// stream on the process builder.
	cmd.Stderr = cmd.Stdout

	stdinErrCh := make(chan error, 1)
	if len(req.Payload) > 0 {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			return fmt.Errorf("worker stdin pipe: %w", err)
		}
		go func() {
			defer stdin.Close()
			_, err := stdin.Write(req.Payload)
			stdinErrCh <- err
		}()
	} else {
		stdinErrCh <- nil
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	// Drain diagnostics line by line while the worker runs so long jobs
	// stay observable.
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		r.scriptLog.Info(strings.TrimRight(scanner.Text(), "\r"))
	}
	scanErr := scanner.Err()

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("worker exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("wait for worker: %w", err)
	}
	if scanErr != nil {
		return fmt.Errorf("read worker output: %w", scanErr)
	}
	if err := <-stdinErrCh; err != nil {
		return fmt.Errorf("stream payload to worker: %w", err)
	}
	return nil
}
