package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dhcgn/inbox-triage/model"
)

// EnvPrefix prefixes every environment override, e.g. INBOX_TRIAGE_IMAP_HOST.
const EnvPrefix = "INBOX_TRIAGE"

// LegacyTestModeEnv toggles the single-move test mode when nothing else
// sets it.
const LegacyTestModeEnv = "TEST_MODE_MOVE_ONE"

// Config captures every option the triage commands need.
type Config struct {
	ConfigFile string

	IMAPHost           string
	IMAPPort           int
	IMAPUser           string
	IMAPPass           string
	UseTLS             bool
	InsecureSkipVerify bool
	IMAPTimeout        time.Duration
	FetchLimit         int
	SourceFolder       string

	Method      string
	LLMProvider string
	LLMBaseURL  string
	LLMAPIKey   string
	LLMModel    string
	LLMLimit    int
	LLMTimeout  time.Duration

	TestModeSingleMove bool
	Journal            bool
	Folders            map[model.Category]string
	Categories         model.CategoryTable

	IncludeSubject []string
	IncludeFrom    []string
	ExcludeSubject []string
	ExcludeFrom    []string

	StateDir string
	LogLevel string
	LogDir   string
}

// flag name -> viper key
var flagKeys = map[string]string{
	"imap-host":             "imap.host",
	"imap-port":             "imap.port",
	"imap-user":             "imap.user",
	"imap-pass":             "imap.pass",
	"use-tls":               "imap.tls",
	"insecure-skip-verify":  "imap.insecure_skip_verify",
	"imap-timeout":          "imap.timeout",
	"fetch-limit":           "imap.fetch_limit",
	"source-folder":         "imap.source_folder",
	"method":                "method",
	"llm-provider":          "llm.provider",
	"llm-base-url":          "llm.base_url",
	"model":                 "llm.model",
	"llm-limit":             "llm.limit",
	"llm-timeout":           "llm.timeout",
	"test-mode-single-move": "move.test_mode_single_move",
	"journal":               "move.journal",
	"include-subject":       "filter.include_subject",
	"include-from":          "filter.include_from",
	"exclude-subject":       "filter.exclude_subject",
	"exclude-from":          "filter.exclude_from",
	"state-dir":             "state_dir",
	"log-level":             "log.level",
	"log-dir":               "log.dir",
}

// RegisterFlags attaches all CLI flags to the provided command as
// persistent flags so every subcommand shares them.
func RegisterFlags(cmd *cobra.Command) error {
	defaultStateDir, err := defaultStateDir()
	if err != nil {
		return err
	}

	flags := cmd.PersistentFlags()
	flags.String("config", "", "Path to a YAML config file (default ~/.config/inbox-triage/config.yaml)")
	flags.String("imap-host", "", "IMAP server hostname")
	flags.Int("imap-port", 993, "IMAP server port")
	flags.String("imap-user", "", "IMAP username")
	flags.String("imap-pass", "", "IMAP password (falls back to IMAP_PASS env var, then the keyring)")
	flags.Bool("use-tls", true, "Use TLS for the IMAP connection")
	flags.Bool("insecure-skip-verify", false, "Skip TLS certificate verification (not recommended)")
	flags.Duration("imap-timeout", 30*time.Second, "Timeout for every IMAP command")
	flags.Int("fetch-limit", 250, "Number of most recent INBOX messages to fetch")
	flags.String("source-folder", "INBOX", "Folder messages are moved out of")
	flags.String("method", "rules", "Categorization method: rules or llm")
	flags.String("llm-provider", "ollama", "Model server API: ollama or openai")
	flags.String("llm-base-url", "", "Model server base URL (provider default when empty)")
	flags.String("model", "", "Model name for llm categorization")
	flags.Int("llm-limit", 0, "Classify only the N most recent messages with the llm (0 = all)")
	flags.Duration("llm-timeout", 60*time.Second, "Timeout for each llm call")
	flags.Bool("test-mode-single-move", false, "Stop every move batch after its first successful move")
	flags.Bool("journal", false, "Append every successful move to <state-dir>/moves.jsonl")
	flags.StringArray("include-subject", nil, "Regex allow-list on subjects for moves (mutually exclusive with exclude flags)")
	flags.StringArray("include-from", nil, "Regex allow-list on senders for moves (mutually exclusive with exclude flags)")
	flags.StringArray("exclude-subject", nil, "Regex block-list on subjects for moves (mutually exclusive with include flags)")
	flags.StringArray("exclude-from", nil, "Regex block-list on senders for moves (mutually exclusive with include flags)")
	flags.String("state-dir", defaultStateDir, "Directory for the move journal")
	flags.String("log-level", "info", "Logging level: debug, info, warn, error")
	flags.String("log-dir", "", "Directory for log files (stdout only when empty)")

	return nil
}

// LoadConfig resolves every option from flags, INBOX_TRIAGE_* environment
// variables, the config file and defaults, in that order of precedence.
func LoadConfig(cmd *cobra.Command) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	flags := cmd.Flags()
	for name, key := range flagKeys {
		if f := lookupFlag(cmd, name); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	configFile, _ := flags.GetString("config")
	if err := readConfigFile(v, configFile); err != nil {
		return Config{}, err
	}

	cfg := Config{
		ConfigFile:         v.ConfigFileUsed(),
		IMAPHost:           strings.TrimSpace(v.GetString("imap.host")),
		IMAPPort:           v.GetInt("imap.port"),
		IMAPUser:           strings.TrimSpace(v.GetString("imap.user")),
		IMAPPass:           v.GetString("imap.pass"),
		UseTLS:             v.GetBool("imap.tls"),
		InsecureSkipVerify: v.GetBool("imap.insecure_skip_verify"),
		IMAPTimeout:        v.GetDuration("imap.timeout"),
		FetchLimit:         v.GetInt("imap.fetch_limit"),
		SourceFolder:       v.GetString("imap.source_folder"),
		Method:             strings.ToLower(strings.TrimSpace(v.GetString("method"))),
		LLMProvider:        strings.ToLower(strings.TrimSpace(v.GetString("llm.provider"))),
		LLMBaseURL:         strings.TrimSpace(v.GetString("llm.base_url")),
		LLMAPIKey:          v.GetString("llm.api_key"),
		LLMModel:           strings.TrimSpace(v.GetString("llm.model")),
		LLMLimit:           v.GetInt("llm.limit"),
		LLMTimeout:         v.GetDuration("llm.timeout"),
		TestModeSingleMove: v.GetBool("move.test_mode_single_move"),
		Journal:            v.GetBool("move.journal"),
		IncludeSubject:     v.GetStringSlice("filter.include_subject"),
		IncludeFrom:        v.GetStringSlice("filter.include_from"),
		ExcludeSubject:     v.GetStringSlice("filter.exclude_subject"),
		ExcludeFrom:        v.GetStringSlice("filter.exclude_from"),
		StateDir:           v.GetString("state_dir"),
		LogLevel:           strings.ToLower(v.GetString("log.level")),
		LogDir:             v.GetString("log.dir"),
	}

	if cfg.IMAPPass == "" {
		cfg.IMAPPass = os.Getenv("IMAP_PASS")
	}

	if !explicitlySet(cmd, v, "test-mode-single-move", "move.test_mode_single_move") {
		if raw, ok := os.LookupEnv(LegacyTestModeEnv); ok {
			enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s value %q: %w", LegacyTestModeEnv, raw, err)
			}
			cfg.TestModeSingleMove = enabled
		}
	}

	if cfg.StateDir == "" {
		stateDir, err := defaultStateDir()
		if err != nil {
			return Config{}, err
		}
		cfg.StateDir = stateDir
	}
	cfg.StateDir = filepath.Clean(cfg.StateDir)

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}

	table, err := categoryTable(v.GetStringMapString("categories"))
	if err != nil {
		return Config{}, err
	}
	cfg.Categories = table

	folders, err := folderMap(v.GetStringMapString("move.folders"))
	if err != nil {
		return Config{}, err
	}
	cfg.Folders = folders

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// ValidateIMAP checks the options needed to open a mailbox session.
func (c Config) ValidateIMAP() error {
	if c.IMAPHost == "" {
		return fmt.Errorf("--imap-host is required")
	}
	if c.IMAPUser == "" {
		return fmt.Errorf("--imap-user is required")
	}
	if c.IMAPPass == "" {
		return fmt.Errorf("IMAP password must be provided via --imap-pass, IMAP_PASS env var or `inbox-triage credentials set`")
	}
	return nil
}

func validateConfig(cfg Config) error {
	if cfg.IMAPPort <= 0 || cfg.IMAPPort > 65535 {
		return fmt.Errorf("--imap-port must be between 1 and 65535")
	}
	if cfg.FetchLimit < 0 {
		return fmt.Errorf("--fetch-limit must not be negative")
	}
	if cfg.LLMLimit < 0 {
		return fmt.Errorf("--llm-limit must not be negative")
	}
	if cfg.IMAPTimeout < 0 || cfg.LLMTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}

	switch cfg.Method {
	case "rules", "llm":
	default:
		return fmt.Errorf("invalid --method: %s", cfg.Method)
	}

	switch cfg.LLMProvider {
	case "ollama", "openai":
	default:
		return fmt.Errorf("invalid --llm-provider: %s", cfg.LLMProvider)
	}

	includeActive := len(cfg.IncludeSubject) > 0 || len(cfg.IncludeFrom) > 0
	excludeActive := len(cfg.ExcludeSubject) > 0 || len(cfg.ExcludeFrom) > 0
	if includeActive && excludeActive {
		return fmt.Errorf("include and exclude flags are mutually exclusive")
	}

	if err := model.ValidateFolders(cfg.Categories, cfg.Folders); err != nil {
		return err
	}

	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid --log-level: %s", cfg.LogLevel)
	}

	return nil
}

func readConfigFile(v *viper.Viper, path string) error {
	explicit := path != ""
	if !explicit {
		path = DefaultConfigFile()
		if path == "" {
			return nil
		}
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !explicit && (errors.Is(err, os.ErrNotExist) || errors.As(err, &notFound)) {
			return nil
		}
		return fmt.Errorf("reading config %s: %w", path, err)
	}
	return nil
}

// categoryTable overlays per-category roles from the config file on the
// default table.
func categoryTable(raw map[string]string) (model.CategoryTable, error) {
	table := model.DefaultCategoryTable()
	for name, roleName := range raw {
		category, ok := model.ParseCategory(name)
		if !ok || category == model.Uncategorised {
			return nil, fmt.Errorf("categories: unknown category %q", name)
		}
		role, err := model.ParseRole(roleName)
		if err != nil {
			return nil, fmt.Errorf("categories.%s: %w", name, err)
		}
		table[category] = role
	}
	return table, nil
}

func folderMap(raw map[string]string) (map[model.Category]string, error) {
	folders := model.DefaultFolders()
	for name, folder := range raw {
		category, ok := model.ParseCategory(name)
		if !ok {
			return nil, fmt.Errorf("move.folders: unknown category %q", name)
		}
		if category == model.Uncategorised {
			return nil, fmt.Errorf("move.folders: %s cannot have a target folder", category)
		}
		folders[category] = strings.TrimSpace(folder)
	}
	return folders, nil
}

func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.InheritedFlags().Lookup(name)
}

// explicitlySet reports whether the option came from the command line, the
// environment or the config file rather than the flag default.
func explicitlySet(cmd *cobra.Command, v *viper.Viper, flagName, key string) bool {
	if f := lookupFlag(cmd, flagName); f != nil && f.Changed {
		return true
	}
	if _, ok := os.LookupEnv(EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))); ok {
		return true
	}
	return v.InConfig(key)
}

// DefaultConfigFile is ~/.config/inbox-triage/config.yaml, or "" when the
// home directory is unknown.
func DefaultConfigFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "inbox-triage", "config.yaml")
}

func defaultStateDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".inbox-triage", "state"), nil
}
