package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/credence/internal/logging"
	"github.com/ppiankov/credence/internal/model"
)

// loadConfig layers flags, CREDENCE_* variables and the config file over
// the built-in defaults. Provider API keys also come from their usual
// variables when the config leaves them empty.
func loadConfig(v *viper.Viper) (*model.Config, error) {
	cfg := model.DefaultConfig()

	defaults, err := defaultsMap(cfg)
	if err != nil {
		return nil, err
	}
	setDefaults(v, "", defaults)
	for _, key := range optionalKeys {
		v.SetDefault(key, "")
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	applyProviderEnv(cfg)
	if verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// optionalKeys are omitted from the marshaled defaults when empty but
// must still be reachable from the environment
var optionalKeys = []string{
	"llm::api_key", "llm::base_url", "llm::http_proxy", "llm::https_proxy", "llm::no_proxy",
	"embedding::api_key", "embedding::base_url",
	"http::http_proxy", "http::https_proxy", "http::no_proxy",
}

func defaultsMap(cfg *model.Config) (map[string]interface{}, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal defaults: %w", err)
	}
	var m map[string]interface{}
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal defaults: %w", err)
	}
	return m, nil
}

// setDefaults registers every leaf so AutomaticEnv can override it. Maps
// keyed by domain names are registered whole.
func setDefaults(v *viper.Viper, prefix string, m map[string]interface{}) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + keyDelimiter + k
		}
		if sub, ok := val.(map[string]interface{}); ok && !hasDottedKey(sub) {
			setDefaults(v, key, sub)
			continue
		}
		v.SetDefault(key, val)
	}
}

func hasDottedKey(m map[string]interface{}) bool {
	for k := range m {
		if strings.Contains(k, ".") {
			return true
		}
	}
	return false
}

func applyProviderEnv(cfg *model.Config) {
	openaiKey := os.Getenv("OPENAI_API_KEY")
	switch strings.ToLower(cfg.LLM.Provider) {
	case "openai":
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = openaiKey
		}
	case "anthropic", "claude":
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	case "ollama":
		if base := os.Getenv("OLLAMA_BASE_URL"); base != "" && cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = base
		}
	}
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = openaiKey
	}
}

// setup loads the configuration and builds the process logger
func setup() (*model.Config, *zap.Logger, error) {
	cfg, err := loadConfig(settings)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Credence configuration",
	Long: `Manage Credence configuration files and settings.

Configuration hierarchy (highest to lowest priority):
1. CLI flags
2. Environment variables (CREDENCE_*, e.g. CREDENCE_LLM_MODEL)
3. Config file (~/.credence/config.yaml or ./config.yaml)
4. Defaults`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(settings)
		if err != nil {
			return err
		}
		if file := settings.ConfigFileUsed(); file != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", file)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults and environment)\n\n")
		}

		out, err := yaml.Marshal(redact(cfg))
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Print(string(out))
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long:  `Create ~/.credence/config.yaml with every available option at its default value.`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("find home directory: %w", err)
		}
		configPath := filepath.Join(home, ".credence", "config.yaml")
		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}

		fmt.Printf("✓ Created default configuration: %s\n", configPath)
		fmt.Printf("\nAPI keys are best kept in the environment:\n")
		fmt.Printf("  export OPENAI_API_KEY=sk-...\n")
		return nil
	},
}

// writeDefaultConfig refuses to overwrite an existing file
func writeDefaultConfig(path string) (err error) {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close config file: %w", closeErr)
		}
	}()

	header := "# Credence configuration\n" +
		"# Environment variables (CREDENCE_*) override values in this file.\n\n"
	if _, err = f.WriteString(header); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// redact hides credentials from config show
func redact(cfg *model.Config) *model.Config {
	out := *cfg
	if out.LLM.APIKey != "" {
		out.LLM.APIKey = "****"
	}
	if out.Embedding.APIKey != "" {
		out.Embedding.APIKey = "****"
	}
	return &out
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
