package config

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:  "info",
			LogFormat: "text",
		},
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               8080,
			ReadTimeoutSeconds: 30,
		},
		Mailbox: MailboxConfig{
			TokenFile:   "~/.mailagent/token.json",
			WatchLabels: []string{"UNREAD"},
		},
		State: StateConfig{
			DSN:                 "sqlite://~/.mailagent/state.db",
			CursorCollection:    "agent_config",
			CursorDoc:           "gmail_watch_state",
			ProcessedCollection: "processed_messages",
		},
		Providers: map[string]ProviderConfig{
			"gemini": {
				Enabled:      true,
				Kind:         "gemini",
				DefaultModel: "gemini-2.5-flash",
				Project:      "${GOOGLE_CLOUD_PROJECT:-my-project}",
				Location:     "${GOOGLE_CLOUD_LOCATION:-us-central1}",
			},
		},
		Agent: AgentConfig{
			Provider:           "gemini",
			Temperature:        0,
			MaxSteps:           25,
			CallTimeoutSeconds: 60,
			MaxParallelTools:   4,
		},
		Attachments: AttachmentsConfig{
			ImageProvider: "gemini",
		},
		Knowledge: KnowledgeConfig{
			DBPath:       "~/.mailagent/knowledge.db",
			ChunkSize:    512,
			ChunkOverlap: 50,
			RetrieverK:   3,
		},
		Renewal: RenewalConfig{
			Enabled:  false,
			Schedule: "0 6 * * *",
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
