package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"genbot/internal/bus"
	"genbot/internal/channel"
	"genbot/internal/config"
	"genbot/internal/dispatch"
	"genbot/internal/domain"
	"genbot/internal/metrics"
	"genbot/internal/pipeline"
	"genbot/internal/requestlog"
	"genbot/internal/router"
	"genbot/internal/store"
	"genbot/internal/worker"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// statsReply is intentionally fixed; it answers /stats regardless of
// arguments or chat kind.
const statsReply = "42!"

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "genbot",
		Short: "genbot: Telegram bot with a content-addressed AI generation pipeline",
		Long:  "genbot routes Telegram updates to canned replies or generation commands and runs each generation as an addressed, audited job.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.genbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(runCmd())
	root.AddCommand(generateCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(versionCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.General.LogLevel)}))
	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.General.OutputsDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "outputs", cfg.General.OutputsDir)
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("genbot " + version)
		},
	}
}

// newRunner builds the configured JobRunner: external worker scripts or the
// in-process OpenAI API client.
func newRunner(cfg *config.Config) (domain.JobRunner, error) {
	creds := domain.Credentials{APIKey: cfg.OpenAI.APIKey, Organization: cfg.OpenAI.Organization}

	switch cfg.Worker.Mode {
	case "api":
		return worker.NewAPIRunner(worker.APIConfig{
			Credentials: creds,
			ChatModel:   cfg.OpenAI.ChatModel,
			Logger:      logger,
		}), nil
	default:
		manifest, err := worker.LoadManifest(cfg.Worker.ManifestPath, logger)
		if err != nil {
			return nil, err
		}
		return worker.NewScriptRunner(worker.ScriptConfig{
			ScriptDir:   cfg.Worker.ScriptDir,
			Manifest:    manifest,
			Credentials: creds,
			Logger:      logger,
		}), nil
	}
}

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the bot (long polling)",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.General.StateDBPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	runner, err := newRunner(cfg)
	if err != nil {
		return err
	}

	eventBus := bus.NewEventBus(logger)
	registerAttemptRecorder(ctx, eventBus, st)

	tg, err := channel.NewTelegram(channel.Config{
		Token:              cfg.Telegram.Token,
		PollTimeoutSeconds: cfg.Telegram.PollTimeoutSeconds,
		Logger:             logger,
	})
	if err != nil {
		return err
	}

	pipe := pipeline.New(pipeline.Config{
		OutputRoot: cfg.General.OutputsDir,
		Runner:     runner,
		RequestLog: requestlog.New(cfg.General.RequestLogPath, logger),
		Bus:        eventBus,
		Logger:     logger,
	})

	dispatcher := dispatch.New(dispatch.Config{
		Pipeline: pipe,
		Fetcher:  tg,
		Sender:   tg,
		Replies: dispatch.Replies{
			Stats:          statsReply,
			UnknownCommand: cfg.Replies.UnknownCommand,
			Failure:        cfg.Replies.Failure,
		},
		Logger: logger,
	})

	rt := router.New(router.Config{
		SelfID:       tg.SelfID(),
		Dispatcher:   dispatcher,
		Sender:       tg,
		MentionReply: cfg.Replies.Mention,
		Bus:          eventBus,
		Logger:       logger,
	})

	lastUpdate, err := st.LastUpdate(ctx)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Enabled {
		g.Go(func() error { return serveMetrics(ctx, cfg.Metrics) })
	}

	g.Go(func() error {
		return tg.Poll(ctx, lastUpdate+1, func(batch []domain.Update) int {
			last := rt.Process(ctx, batch)
			if last >= 0 {
				if err := st.SaveLastUpdate(ctx, last); err != nil {
					logger.Warn("cannot persist update offset", "err", err)
				}
			}
			return last
		})
	})

	logger.Info("genbot started", "version", version, "worker_mode", cfg.Worker.Mode)
	return g.Wait()
}

// registerAttemptRecorder mirrors generation outcomes into the state store
// for the status command.
func registerAttemptRecorder(ctx context.Context, eventBus *bus.EventBus, st *store.Store) {
	record := func(outcome string) bus.EventHandler {
		return func(e bus.Event) {
			requestID, _ := e.Payload["request_id"].(string)
			requester, _ := e.Payload["requester"].(string)
			kind, _ := e.Payload["kind"].(string)
			if err := st.RecordAttempt(ctx, requestID, requester, kind, outcome); err != nil {
				logger.Warn("cannot record attempt", "err", err)
			}
		}
	}
	eventBus.On(bus.EventGenerationSucceeded, record("success"))
	eventBus.On(bus.EventGenerationFailed, record("failure"))
}

func serveMetrics(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Endpoint, metrics.Collector.Handler())
	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", cfg.Addr, "endpoint", cfg.Endpoint)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func generateCmd() *cobra.Command {
	var (
		kind        string
		requestText string
		user        string
		payloadPath string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one generation job from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			opKind := domain.OperationKind(kind)
			switch opKind {
			case domain.OpImage, domain.OpImageVariation, domain.OpTextCompletion, domain.OpTextEdit:
			default:
				return fmt.Errorf("unknown operation kind %q", kind)
			}

			var payload []byte
			if payloadPath != "" {
				payload, err = os.ReadFile(payloadPath)
				if err != nil {
					return err
				}
			}

			runner, err := newRunner(cfg)
			if err != nil {
				return err
			}

			pipe := pipeline.New(pipeline.Config{
				OutputRoot: cfg.General.OutputsDir,
				Runner:     runner,
				RequestLog: requestlog.New(cfg.General.RequestLogPath, logger),
				Logger:     logger,
			})

			artifact, err := pipe.Generate(cmd.Context(), domain.GenerationRequest{
				ID:        uuid.NewString(),
				Text:      requestText,
				Requester: user,
				Payload:   payload,
				Kind:      opKind,
			})
			if err != nil {
				return err
			}
			fmt.Println(artifact)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(domain.OpTextCompletion), "operation kind: image, image_variation, text_completion, text_edit")
	cmd.Flags().StringVar(&requestText, "request", "", "request text")
	cmd.Flags().StringVar(&user, "user", "cli", "requester identity")
	cmd.Flags().StringVar(&payloadPath, "payload", "", "optional payload file streamed to the worker")
	_ = cmd.MarkFlagRequired("request")

	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show polling progress and generation attempt totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			st, err := store.Open(cfg.General.StateDBPath, logger)
			if err != nil {
				return err
			}
			defer st.Close()

			last, err := st.LastUpdate(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := st.AttemptCounts(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Printf("last processed update: %d\n", last)
			fmt.Printf("generations: %d succeeded, %d failed\n", counts["success"], counts["failure"])
			return nil
		},
	}
}
