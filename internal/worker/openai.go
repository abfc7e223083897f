package worker

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"genbot/internal/domain"

	openai "github.com/sashabaranov/go-openai"
)

// APIRunner performs generation jobs in-process against the OpenAI API. It
// honors the same contract as the script runner: the artifact lands at
// outputDir plus the kind-specific extension.
type APIRunner struct {
	client    *openai.Client
	chatModel string
	logger    *slog.Logger
}

type APIConfig struct {
	Credentials domain.Credentials
	ChatModel   string // defaults to gpt-4o-mini
	Logger      *slog.Logger
}

func NewAPIRunner(cfg APIConfig) *APIRunner {
	clientCfg := openai.DefaultConfig(cfg.Credentials.APIKey)
	clientCfg.OrgID = cfg.Credentials.Organization
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}
	return &APIRunner{
		client:    openai.NewClientWithConfig(clientCfg),
		chatModel: cfg.ChatModel,
		logger:    cfg.Logger,
	}
}

func (r *APIRunner) Run(ctx context.Context, outputDir string, req domain.GenerationRequest) error {
	switch req.Kind {
	case domain.OpImage:
		return r.generateImage(ctx, outputDir, req)
	case domain.OpImageVariation:
		return r.variateImage(ctx, outputDir, req)
	case domain.OpTextCompletion:
		return r.complete(ctx, outputDir, req, nil)
	case domain.OpTextEdit:
		return r.complete(ctx, outputDir, req, req.Payload)
	default:
		return fmt.Errorf("unsupported operation %q", req.Kind)
	}
}

func (r *APIRunner) generateImage(ctx context.Context, outputDir string, req domain.GenerationRequest) error {
	resp, err := r.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Text,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		User:           req.Requester,
	})
	if err != nil {
		return fmt.Errorf("create image: %w", err)
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("create image: empty response")
	}
	return writeB64Artifact(outputDir+req.Kind.Extension(), resp.Data[0].B64JSON)
}

func (r *APIRunner) variateImage(ctx context.Context, outputDir string, req domain.GenerationRequest) error {
	// The variation endpoint wants a file; stage the payload inside the
	// job's own directory so failure cleanup removes it too.
	srcPath := filepath.Join(outputDir, "source.png")
	if err := os.WriteFile(srcPath, req.Payload, 0o644); err != nil {
		return fmt.Errorf("stage source image: %w", err)
	}
	src, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open source image: %w", err)
	}
	defer src.Close()

	resp, err := r.client.CreateVariImage(ctx, openai.ImageVariRequest{
		Image:          src,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return fmt.Errorf("create image variation: %w", err)
	}
	if len(resp.Data) == 0 {
		return fmt.Errorf("create image variation: empty response")
	}
	return writeB64Artifact(outputDir+req.Kind.Extension(), resp.Data[0].B64JSON)
}

// complete runs a chat completion. With an input payload the request text
// acts as the edit instruction over the payload text.
func (r *APIRunner) complete(ctx context.Context, outputDir string, req domain.GenerationRequest, input []byte) error {
	var msgs []openai.ChatCompletionMessage
	if input != nil {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Apply the following instruction to the user's text and reply with the result only: " + req.Text,
		})
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: string(input),
		})
	} else {
		msgs = append(msgs, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleUser,
			Content: req.Text,
		})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.chatModel,
		Messages: msgs,
		User:     req.Requester,
	})
	if err != nil {
		return fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("chat completion: empty response")
	}

	artifact := outputDir + req.Kind.Extension()
	if err := os.WriteFile(artifact, []byte(resp.Choices[0].Message.Content), 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

func writeB64Artifact(path, b64 string) error {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decode image payload: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}
