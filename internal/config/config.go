package config

import (
	"encoding/json"
	"fmt"
	"net/mail"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
)

// Config is the root configuration for mailagent.
type Config struct {
	General     GeneralConfig             `json:"general"`
	Server      ServerConfig              `json:"server"`
	Mailbox     MailboxConfig             `json:"mailbox"`
	State       StateConfig               `json:"state"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Agent       AgentConfig               `json:"agent"`
	Attachments AttachmentsConfig         `json:"attachments"`
	Knowledge   KnowledgeConfig           `json:"knowledge"`
	Storage     StorageConfig             `json:"storage"`
	Renewal     RenewalConfig             `json:"renewal"`
	Metrics     MetricsConfig             `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel  string `json:"logLevel" env:"MAILAGENT_LOG_LEVEL"`
	LogFormat string `json:"logFormat" env:"MAILAGENT_LOG_FORMAT"` // "text" | "json"
	LogFile   string `json:"logFile,omitempty" env:"MAILAGENT_LOG_FILE"`
}

type ServerConfig struct {
	Host               string `json:"host" env:"MAILAGENT_HOST"`
	Port               int    `json:"port" env:"PORT"`
	ReadTimeoutSeconds int    `json:"readTimeoutSeconds" env:"MAILAGENT_READ_TIMEOUT_SECONDS"`
}

// MailboxConfig identifies the watched Gmail account.
type MailboxConfig struct {
	Address         string   `json:"address" env:"MAILAGENT_MAILBOX_ADDRESS"`
	TokenFile       string   `json:"tokenFile" env:"MAILAGENT_TOKEN_FILE"`
	CredentialsFile string   `json:"credentialsFile,omitempty" env:"MAILAGENT_CREDENTIALS_FILE"`
	Topic           string   `json:"topic" env:"MAILAGENT_PUBSUB_TOPIC"`
	WatchLabels     []string `json:"watchLabels" env:"MAILAGENT_WATCH_LABELS"`
}

// StateConfig selects the cursor/ledger backend by DSN scheme.
type StateConfig struct {
	DSN                 string `json:"dsn" env:"MAILAGENT_STATE_DSN"`
	MonotonicCursor     bool   `json:"monotonicCursor" env:"MAILAGENT_MONOTONIC_CURSOR"`
	FirestoreProject    string `json:"firestoreProject,omitempty" env:"MAILAGENT_FIRESTORE_PROJECT"`
	FirestoreDatabase   string `json:"firestoreDatabase,omitempty" env:"MAILAGENT_FIRESTORE_DATABASE"`
	CursorCollection    string `json:"cursorCollection" env:"MAILAGENT_CURSOR_COLLECTION"`
	CursorDoc           string `json:"cursorDoc" env:"MAILAGENT_CURSOR_DOC"`
	ProcessedCollection string `json:"processedCollection" env:"MAILAGENT_PROCESSED_COLLECTION"`
}

type ProviderConfig struct {
	Enabled         bool   `json:"enabled"`
	Kind            string `json:"kind"` // "gemini" | "openai" | "claude" | "whisper"
	APIBase         string `json:"apiBase,omitempty"`
	APIKey          string `json:"apiKey,omitempty"`
	DefaultModel    string `json:"defaultModel,omitempty"`
	Project         string `json:"project,omitempty"`
	Location        string `json:"location,omitempty"`
	RateLimitPerMin int    `json:"rateLimitPerMinute,omitempty"`
}

type AgentConfig struct {
	Provider           string   `json:"provider" env:"MAILAGENT_AGENT_PROVIDER"`
	FailoverChain      []string `json:"failoverChain,omitempty" env:"MAILAGENT_AGENT_FAILOVER_CHAIN"`
	Model              string   `json:"model,omitempty" env:"MAILAGENT_AGENT_MODEL"`
	Temperature        float64  `json:"temperature" env:"MAILAGENT_AGENT_TEMPERATURE"`
	MaxSteps           int      `json:"maxSteps" env:"MAILAGENT_AGENT_MAX_STEPS"`
	CallTimeoutSeconds int      `json:"callTimeoutSeconds" env:"MAILAGENT_AGENT_CALL_TIMEOUT_SECONDS"`
	MaxParallelTools   int      `json:"maxParallelTools" env:"MAILAGENT_AGENT_MAX_PARALLEL_TOOLS"`
	PromptsFile        string   `json:"promptsFile,omitempty" env:"MAILAGENT_PROMPTS_FILE"`
}

// AttachmentsConfig names the providers used for image description and
// audio transcription. Empty disables that decoder.
type AttachmentsConfig struct {
	ImageProvider string `json:"imageProvider,omitempty" env:"MAILAGENT_IMAGE_PROVIDER"`
	AudioProvider string `json:"audioProvider,omitempty" env:"MAILAGENT_AUDIO_PROVIDER"`
}

// KnowledgeConfig configures the passage index and the ingestion splitter.
type KnowledgeConfig struct {
	DBPath       string `json:"dbPath" env:"MAILAGENT_KNOWLEDGE_DB"`
	ChunkSize    int    `json:"chunkSize" env:"MAILAGENT_CHUNK_SIZE"`
	ChunkOverlap int    `json:"chunkOverlap" env:"MAILAGENT_CHUNK_OVERLAP"`
	RetrieverK   int    `json:"retrieverK" env:"MAILAGENT_RETRIEVER_K"`
	Bucket       string `json:"bucket,omitempty" env:"MAILAGENT_KNOWLEDGE_BUCKET"`
}

type StorageConfig struct {
	Project string `json:"project,omitempty" env:"MAILAGENT_STORAGE_PROJECT"`
}

// RenewalConfig schedules periodic Gmail watch renewal.
type RenewalConfig struct {
	Enabled  bool   `json:"enabled" env:"MAILAGENT_RENEWAL_ENABLED"`
	Schedule string `json:"schedule" env:"MAILAGENT_RENEWAL_SCHEDULE"` // cron expression
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" env:"MAILAGENT_METRICS_ENABLED"`
	Endpoint string `json:"endpoint" env:"MAILAGENT_METRICS_ENDPOINT"`
}

// DefaultConfigDir returns the default config directory (~/.mailagent).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mailagent"
	}
	return filepath.Join(home, ".mailagent")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("cannot apply environment overrides: %w", err)
	}

	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Mailbox.TokenFile = ExpandPath(cfg.Mailbox.TokenFile)
	cfg.Mailbox.CredentialsFile = ExpandPath(cfg.Mailbox.CredentialsFile)
	cfg.Knowledge.DBPath = ExpandPath(cfg.Knowledge.DBPath)
	cfg.Agent.PromptsFile = ExpandPath(cfg.Agent.PromptsFile)
	cfg.State.DSN = expandDSNPath(cfg.State.DSN)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

var providerKinds = map[string]bool{"gemini": true, "openai": true, "claude": true, "whisper": true}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch strings.ToLower(cfg.General.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	switch cfg.General.LogFormat {
	case "", "text", "json":
	default:
		errs = append(errs, "general.logFormat must be one of: text, json")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.ReadTimeoutSeconds < 1 {
		errs = append(errs, "server.readTimeoutSeconds must be >= 1")
	}

	if addr := strings.TrimSpace(cfg.Mailbox.Address); addr != "" {
		if _, err := mail.ParseAddress(addr); err != nil {
			errs = append(errs, fmt.Sprintf("mailbox.address %q is not an email address", addr))
		}
	}

	if strings.TrimSpace(cfg.State.DSN) == "" {
		errs = append(errs, "state.dsn is required")
	}

	if cfg.Agent.MaxSteps < 1 || cfg.Agent.MaxSteps > 200 {
		errs = append(errs, "agent.maxSteps must be between 1 and 200")
	}
	if cfg.Agent.CallTimeoutSeconds < 1 {
		errs = append(errs, "agent.callTimeoutSeconds must be >= 1")
	}
	if cfg.Agent.MaxParallelTools < 1 || cfg.Agent.MaxParallelTools > 32 {
		errs = append(errs, "agent.maxParallelTools must be between 1 and 32")
	}
	if cfg.Agent.Temperature < 0 || cfg.Agent.Temperature > 2 {
		errs = append(errs, "agent.temperature must be between 0 and 2")
	}

	chatProviders := append([]string{cfg.Agent.Provider}, cfg.Agent.FailoverChain...)
	for i, name := range chatProviders {
		field := "agent.provider"
		if i > 0 {
			field = "agent.failoverChain"
		}
		pc, ok := cfg.Providers[name]
		switch {
		case name == "" && i == 0:
			errs = append(errs, "agent.provider is required")
		case !ok:
			errs = append(errs, fmt.Sprintf("%s references unknown provider: %s", field, name))
		case pc.Kind == "whisper":
			errs = append(errs, fmt.Sprintf("%s: provider %s is a transcription provider", field, name))
		}
	}
	if name := cfg.Attachments.ImageProvider; name != "" {
		if pc, ok := cfg.Providers[name]; !ok || pc.Kind != "gemini" {
			errs = append(errs, fmt.Sprintf("attachments.imageProvider must reference a gemini provider: %s", name))
		}
	}
	if name := cfg.Attachments.AudioProvider; name != "" {
		if pc, ok := cfg.Providers[name]; !ok || pc.Kind != "whisper" {
			errs = append(errs, fmt.Sprintf("attachments.audioProvider must reference a whisper provider: %s", name))
		}
	}

	for name, pc := range cfg.Providers {
		if !providerKinds[pc.Kind] {
			errs = append(errs, fmt.Sprintf("providers.%s: kind must be one of: gemini, openai, claude, whisper", name))
			continue
		}
		if !pc.Enabled {
			continue
		}
		if pc.Kind == "gemini" && pc.APIKey == "" && (pc.Project == "" || pc.Location == "") {
			errs = append(errs, fmt.Sprintf("providers.%s: project and location are required without apiKey", name))
		}
		if (pc.Kind == "openai" || pc.Kind == "claude") && pc.APIKey == "" {
			errs = append(errs, fmt.Sprintf("providers.%s: apiKey is required", name))
		}
	}

	if cfg.Knowledge.ChunkSize < 1 {
		errs = append(errs, "knowledge.chunkSize must be >= 1")
	}
	if cfg.Knowledge.ChunkOverlap < 0 || cfg.Knowledge.ChunkOverlap >= cfg.Knowledge.ChunkSize {
		errs = append(errs, "knowledge.chunkOverlap must be >= 0 and smaller than chunkSize")
	}
	if cfg.Knowledge.RetrieverK < 1 {
		errs = append(errs, "knowledge.retrieverK must be >= 1")
	}

	if cfg.Renewal.Enabled {
		switch sched := strings.TrimSpace(cfg.Renewal.Schedule); {
		case sched == "":
			errs = append(errs, "renewal.schedule is required when renewal is enabled")
		case !gronx.New().IsValid(sched):
			errs = append(errs, fmt.Sprintf("renewal.schedule is not a valid cron expression: %s", sched))
		}
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// expandDSNPath expands ~/ in bare-path and sqlite:// DSNs.
func expandDSNPath(dsn string) string {
	if rest, ok := strings.CutPrefix(dsn, "sqlite://"); ok {
		return "sqlite://" + ExpandPath(rest)
	}
	return ExpandPath(dsn)
}
