package domain

import (
	"context"
	"errors"
)

// OperationKind selects which generation the worker performs.
type OperationKind string

const (
	OpImage          OperationKind = "image"
	OpImageVariation OperationKind = "image_variation"
	OpTextCompletion OperationKind = "text_completion"
	OpTextEdit       OperationKind = "text_edit"
)

// Extension is the suffix callers append to the output directory path to
// locate the produced artifact.
func (k OperationKind) Extension() string {
	switch k {
	case OpImage, OpImageVariation:
		return ".jpeg"
	default:
		return ".txt"
	}
}

// IsImage reports whether the operation produces an image artifact.
func (k OperationKind) IsImage() bool {
	return k == OpImage || k == OpImageVariation
}

// GenerationRequest is one addressed generation attempt. It is created by
// the dispatcher and consumed by the pipeline within a single call.
type GenerationRequest struct {
	ID        string // correlation id for logs, not part of the content address
	Text      string
	Requester string
	Payload   []byte // optional binary/text input streamed to the worker
	Kind      OperationKind
}

// Credentials are passed through to the worker untouched.
type Credentials struct {
	APIKey       string
	Organization string
}

// JobRunner is the capability that performs one generation job. The output
// directory exists and already holds the audit files when Run is called;
// the runner produces the artifact as the sibling file dir+ext. A nil error
// means the artifact is in place.
type JobRunner interface {
	Run(ctx context.Context, outputDir string, req GenerationRequest) error
}

// ErrGenerationFailed marks any pipeline failure: worker non-zero exit,
// worker I/O error, or output-directory bookkeeping failure.
var ErrGenerationFailed = errors.New("generation failed")

// ErrMediaDownload marks a failure fetching a replied-to attachment. It
// aborts a dispatch before the pipeline runs.
var ErrMediaDownload = errors.New("media download failed")
