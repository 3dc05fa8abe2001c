package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/hay-kot/criterio"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/joescharf/prreview/internal/config"
)

var configForce bool

// configDirFunc returns the config directory path, replaceable in tests.
var configDirFunc = config.DefaultDir

// envKeyReplacer maps nested keys to env names: review.max_retrieval_docs
// becomes PRREVIEW_REVIEW_MAX_RETRIEVAL_DOCS.
var envKeyReplacer = strings.NewReplacer(".", "_")

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Show or manage prreview configuration.

Running bare 'prreview config' is the same as 'prreview config show'.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create config file with commented defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configInitRun()
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration with sources",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configShowRun()
	},
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in $EDITOR",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configEditRun()
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the effective configuration for errors",
	RunE: func(cmd *cobra.Command, args []string) error {
		return configValidateRun()
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite existing config file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// configTemplate is the template for generating config.yaml with comments.
const configTemplate = `# prreview configuration
# See: prreview config show (for effective values and sources)

# State/data directory (default: ~/.config/prreview)
# state_dir: {{ .StateDir }}

# Session log directory for the file store (default: <state_dir>/sessions)
# sessions_dir: {{ .SessionsDir }}

# Session storage
store:
  # "file" (JSONL step logs + JSON snapshots) or "sqlite"
  backend: "{{ .Backend }}"
  # SQLite database path (default: <state_dir>/prreview.db)
  # db_path: {{ .DBPath }}

# Anthropic model settings. The API key falls back to ANTHROPIC_API_KEY.
anthropic:
  # api_key: ""
  model: "{{ .Model }}"
  temperature: {{ .Temperature }}
  top_p: {{ .TopP }}
  max_tokens: {{ .MaxTokens }}

# Review pipeline
review:
  # Criteria used when none is given: a preset name
  # (strict style, performance, security, correctness) or free-form text
  default_criteria: "{{ .DefaultCriteria }}"
  max_retrieval_docs: {{ .MaxRetrievalDocs }}
  max_context_length: {{ .MaxContextLength }}
  # Changed files matching these doublestar globs are not reviewed
  exclude_paths: []

# Pull request source
github:
  # Directory of extra YAML PR fixtures (default: embedded demo data only)
  mock_data_dir: "{{ .MockDataDir }}"

# Diagnostic logging
log:
  # trace, debug, info, warn, error
  level: "{{ .LogLevel }}"
  # file: {{ .LogFile }}
`

type configTemplateData struct {
	StateDir         string
	SessionsDir      string
	Backend          string
	DBPath           string
	Model            string
	Temperature      float64
	TopP             float64
	MaxTokens        int64
	DefaultCriteria  string
	MaxRetrievalDocs int
	MaxContextLength int
	MockDataDir      string
	LogLevel         string
	LogFile          string
}

func configFilePath() (string, error) {
	if f := viper.ConfigFileUsed(); f != "" {
		return f, nil
	}
	dir, err := configDirFunc()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configInitRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if file already exists
	if _, err := os.Stat(cfgPath); err == nil {
		if !configForce {
			return fmt.Errorf("config file already exists: %s (use --force to overwrite)", cfgPath)
		}
		ui.Warning("Overwriting existing config file")
	}

	// Build template data from current viper values
	c := config.Load(viper.GetViper())
	data := configTemplateData{
		StateDir:         c.StateDir,
		SessionsDir:      c.SessionsDir,
		Backend:          c.Store.Backend,
		DBPath:           c.Store.DBPath,
		Model:            c.Anthropic.Model,
		Temperature:      c.Anthropic.Temperature,
		TopP:             c.Anthropic.TopP,
		MaxTokens:        c.Anthropic.MaxTokens,
		DefaultCriteria:  c.Review.DefaultCriteria,
		MaxRetrievalDocs: c.Review.MaxRetrievalDocs,
		MaxContextLength: c.Review.MaxContextLength,
		MockDataDir:      c.GitHub.MockDataDir,
		LogLevel:         c.Log.Level,
		LogFile:          c.Log.File,
	}

	tmpl, err := template.New("config").Parse(configTemplate)
	if err != nil {
		return fmt.Errorf("template parse error: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return fmt.Errorf("template execute error: %w", err)
	}

	if dryRun {
		ui.DryRunMsg("Would create config file: %s", cfgPath)
		fmt.Fprintln(ui.Out)
		fmt.Fprint(ui.Out, buf.String())
		return nil
	}

	// Create config directory
	dir := filepath.Dir(cfgPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(cfgPath, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	ui.Success("Config file created: %s", cfgPath)
	fmt.Fprintln(ui.Out)
	fmt.Fprint(ui.Out, buf.String())
	return nil
}

// configKeyInfo describes a config key for display purposes. Value reads
// the effective value so derived paths show what is actually used.
type configKeyInfo struct {
	Key    string
	Value  func(c *config.Config) any
	Secret bool
}

var configKeys = []configKeyInfo{
	{Key: "state_dir", Value: func(c *config.Config) any { return c.StateDir }},
	{Key: "sessions_dir", Value: func(c *config.Config) any { return c.SessionsDir }},
	{Key: "store.backend", Value: func(c *config.Config) any { return c.Store.Backend }},
	{Key: "store.db_path", Value: func(c *config.Config) any { return c.Store.DBPath }},
	{Key: "anthropic.api_key", Value: func(c *config.Config) any { return c.Anthropic.APIKey }, Secret: true},
	{Key: "anthropic.model", Value: func(c *config.Config) any { return c.Anthropic.Model }},
	{Key: "anthropic.temperature", Value: func(c *config.Config) any { return c.Anthropic.Temperature }},
	{Key: "anthropic.top_p", Value: func(c *config.Config) any { return c.Anthropic.TopP }},
	{Key: "anthropic.max_tokens", Value: func(c *config.Config) any { return c.Anthropic.MaxTokens }},
	{Key: "review.default_criteria", Value: func(c *config.Config) any { return c.Review.DefaultCriteria }},
	{Key: "review.max_retrieval_docs", Value: func(c *config.Config) any { return c.Review.MaxRetrievalDocs }},
	{Key: "review.max_context_length", Value: func(c *config.Config) any { return c.Review.MaxContextLength }},
	{Key: "review.exclude_paths", Value: func(c *config.Config) any { return c.Review.ExcludePaths }},
	{Key: "github.mock_data_dir", Value: func(c *config.Config) any { return c.GitHub.MockDataDir }},
	{Key: "log.level", Value: func(c *config.Config) any { return c.Log.Level }},
	{Key: "log.file", Value: func(c *config.Config) any { return c.Log.File }},
}

// envVarFor returns the environment variable that overrides key.
func envVarFor(key string) string {
	return config.EnvPrefix + "_" + strings.ToUpper(envKeyReplacer.Replace(key))
}

func configShowRun() error {
	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	// Check if config file exists
	if _, err := os.Stat(cfgPath); err == nil {
		ui.Info("Config file: %s", cfgPath)
	} else {
		ui.Info("Config file: (none)")
	}
	fmt.Fprintln(ui.Out)

	// Read config file values to determine file source
	fileValues := readConfigFileValues(cfgPath)
	c := config.Load(viper.GetViper())

	for _, k := range configKeys {
		val := k.Value(c)
		if k.Secret {
			val = maskSecret(fmt.Sprint(val))
		}
		source := detectSource(k.Key, envVarFor(k.Key), fileValues)
		fmt.Fprintf(ui.Out, "  %-26s %v  %s\n", k.Key, val, source)
	}

	return nil
}

// maskSecret keeps the last four characters of s.
func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// readConfigFileValues reads the raw YAML file and returns a flat map of keys present in it.
func readConfigFileValues(path string) map[string]bool {
	result := make(map[string]bool)

	data, err := os.ReadFile(path)
	if err != nil {
		return result
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return result
	}

	// Flatten nested keys with dot notation
	flattenKeys("", parsed, result)
	return result
}

// flattenKeys recursively flattens a nested map to dot-notation keys.
func flattenKeys(prefix string, m map[string]any, result map[string]bool) {
	for key, val := range m {
		fullKey := key
		if prefix != "" {
			fullKey = prefix + "." + key
		}
		if nested, ok := val.(map[string]any); ok {
			flattenKeys(fullKey, nested, result)
		} else {
			result[fullKey] = true
		}
	}
}

// detectSource determines where a config value is coming from.
func detectSource(key, envVar string, fileValues map[string]bool) string {
	if _, ok := os.LookupEnv(envVar); ok {
		return fmt.Sprintf("(env: %s)", envVar)
	}
	if fileValues[key] {
		return "(file)"
	}
	return "(default)"
}

func configEditRun() error {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		return fmt.Errorf("$EDITOR is not set, set it to your preferred editor (e.g. export EDITOR=vim)")
	}

	cfgPath, err := configFilePath()
	if err != nil {
		return err
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s (run 'prreview config init' first)", cfgPath)
	}

	if dryRun {
		ui.DryRunMsg("Would open %s in %s", cfgPath, editor)
		return nil
	}

	editCmd := exec.Command(editor, cfgPath)
	editCmd.Stdin = os.Stdin
	editCmd.Stdout = os.Stdout
	editCmd.Stderr = os.Stderr
	return editCmd.Run()
}

func configValidateRun() error {
	err := config.Load(viper.GetViper()).Validate()
	if err == nil {
		ui.Success("Configuration is valid")
		return nil
	}

	var fieldErrs criterio.FieldErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	for _, fe := range fieldErrs {
		ui.Error("%s: %v", fe.Field, fe.Err)
	}
	return fmt.Errorf("configuration has %d error(s)", len(fieldErrs))
}
