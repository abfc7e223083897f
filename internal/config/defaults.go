package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			OutputsDir:     "outputs",
			RequestLogPath: "outputs/requests.log",
			StateDBPath:    "~/.genbot/state.db",
			LogLevel:       "info",
		},
		Telegram: TelegramConfig{
			PollTimeoutSeconds: 30,
		},
		Worker: WorkerConfig{
			Mode:      "script",
			ScriptDir: "workers",
		},
		OpenAI: OpenAIConfig{
			ChatModel: "gpt-4o-mini",
		},
		Replies: RepliesConfig{
			Mention:        "Don't mention me.",
			UnknownCommand: "I don't know those words.",
			Failure:        "Something went wrong. :-(",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Addr:     "127.0.0.1:9090",
			Endpoint: "/metrics",
		},
	}
}
