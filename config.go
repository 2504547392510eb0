package acpclient

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config configures a Client. LoadConfig fills every field that the
// environment or a config file does not set from the defaults
// setDefaults installs, the same layering kdlbs-kandev's config package
// uses: SetDefault first, then overrides.
type Config struct {
	Agent      AgentConfig      `mapstructure:"agent"`
	Session    SessionConfig    `mapstructure:"session"`
	Permission PermissionConfig `mapstructure:"permission"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// AgentConfig names the child process and how it is spawned.
type AgentConfig struct {
	// Binary is the command name or path resolved against the extended
	// PATH (spec.md §4.1).
	Binary string `mapstructure:"binary"`
	// Args are appended after Binary, e.g. ["acp"].
	Args []string `mapstructure:"args"`
	// CWD is handed to the agent as its working directory and as the
	// session's cwd parameter (spec.md §4.4).
	CWD string `mapstructure:"cwd"`
	// DiagnosticLogPath, if set, is exported to the child as
	// KIRO_ACP_DEBUG_LOG (spec.md §6).
	DiagnosticLogPath string `mapstructure:"diagnosticLogPath"`
	// RequestTimeout bounds every individual RPC call (spec.md §5).
	RequestTimeout time.Duration `mapstructure:"requestTimeout"`
}

// SessionConfig controls where the session identifier is persisted and
// the configuration applied immediately after establishment.
type SessionConfig struct {
	// StorePath is the well-known on-disk path for the persisted session
	// record (spec.md §4.7, §6).
	StorePath string `mapstructure:"storePath"`
	// InitialMode, if set, is applied via session/set_mode right after
	// establishment; a failure fails establishment (mode is a security
	// boundary).
	InitialMode string `mapstructure:"initialMode"`
	// InitialModel, if set, is applied via session/set_model right after
	// establishment; a failure is logged and swallowed.
	InitialModel string `mapstructure:"initialModel"`
}

// PermissionConfig seeds the mutable edits-allowed policy flag (spec.md
// §3, §4.5).
type PermissionConfig struct {
	EditsAllowed bool `mapstructure:"editsAllowed"`
}

// LoggingConfig controls the client's own structured logger, independent
// of the agent's diagnostic log file.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("agent.binary", "kiro-cli")
	v.SetDefault("agent.args", []string{"acp"})
	v.SetDefault("agent.cwd", "")
	v.SetDefault("agent.diagnosticLogPath", "")
	v.SetDefault("agent.requestTimeout", 60*time.Second)

	v.SetDefault("session.storePath", defaultStorePath())
	v.SetDefault("session.initialMode", "")
	v.SetDefault("session.initialModel", "")

	v.SetDefault("permission.editsAllowed", false)

	v.SetDefault("logging.level", "info")
}

// defaultStorePath mirrors the installation-directory convention spec.md
// §6 describes: a single well-known path under the user's state
// directory, falling back to the working directory if none resolves.
func defaultStorePath() string {
	if dir, err := os.UserHomeDir(); err == nil {
		return filepath.Join(dir, ".acpclient", "session.json")
	}
	return filepath.Join(".acpclient", "session.json")
}

// LoadConfig reads configuration from environment variables (prefixed
// ACPCLIENT_), an optional config file, and the defaults above. configPath
// may be empty to search the working directory and /etc/acpclient/ for a
// file named config.yaml, matching kdlbs-kandev's LoadWithPath.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ACPCLIENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/acpclient/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("acp: read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns the configuration LoadConfig would produce with no
// environment overrides or config file present.
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}
