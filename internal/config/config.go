package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

const (
	DefaultHostname = "127.0.0.1"
	DefaultPort     = 8787

	// DefaultSystemPrompt is used when the configuration names none.
	DefaultSystemPrompt = "You are an assistant embedded in a manager's dashboard. Answer concisely."
)

var (
	envPattern  = regexp.MustCompile(`\{env:([^}]+)\}`)
	filePattern = regexp.MustCompile(`\{file:([^}]+)\}`)
)

// Defaults returns the configuration used before any file is applied.
func Defaults() *types.Config {
	return &types.Config{
		Completion: types.CompletionConfig{
			SystemPrompt: DefaultSystemPrompt,
		},
		Server: types.ServerConfig{
			Hostname: DefaultHostname,
			Port:     DefaultPort,
		},
		Log: types.LogConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from multiple sources (lowest priority first):
// 1. Global config (~/.config/ciedenmanager/assistant.json[c])
// 2. Project config (<directory>/.assistant/assistant.json[c])
// 3. ASSISTANT_CONFIG file
// 4. ASSISTANT_CONFIG_CONTENT inline JSON
// 5. Environment variables
//
// Missing files are skipped. A file that exists but cannot be parsed is an error.
func Load(directory string) (*types.Config, error) {
	config := Defaults()

	loaded := make(map[string]bool)
	loadOnce := func(path string) error {
		absPath, err := filepath.Abs(path)
		if err != nil || loaded[absPath] {
			return nil
		}
		if err := loadConfigFile(path, config, filepath.Dir(path)); err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return fmt.Errorf("load config %s: %w", path, err)
		}
		loaded[absPath] = true
		return nil
	}

	var candidates []string
	globalDir := GetPaths().Config
	candidates = append(candidates,
		filepath.Join(globalDir, "assistant.json"),
		filepath.Join(globalDir, "assistant.jsonc"),
	)
	if directory != "" {
		projectDir := filepath.Join(directory, ".assistant")
		candidates = append(candidates,
			filepath.Join(projectDir, "assistant.json"),
			filepath.Join(projectDir, "assistant.jsonc"),
		)
	}
	if configPath := os.Getenv("ASSISTANT_CONFIG"); configPath != "" {
		candidates = append(candidates, configPath)
	}

	for _, path := range candidates {
		if err := loadOnce(path); err != nil {
			return nil, err
		}
	}

	if content := os.Getenv("ASSISTANT_CONFIG_CONTENT"); content != "" {
		var inline types.Config
		data := interpolate(jsonc.ToJSON([]byte(content)), directory)
		if err := json.Unmarshal(data, &inline); err != nil {
			return nil, fmt.Errorf("parse ASSISTANT_CONFIG_CONTENT: %w", err)
		}
		mergeConfig(config, &inline)
	}

	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	data = jsonc.ToJSON(data)
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		return os.Getenv(envPattern.FindStringSubmatch(match)[1])
	})

	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		if strings.HasPrefix(filePath, "~/") {
			filePath = filepath.Join(os.Getenv("HOME"), filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match
		}

		// Escape for embedding inside a JSON string.
		escaped, _ := json.Marshal(strings.TrimRight(string(content), "\n"))
		return string(escaped[1 : len(escaped)-1])
	})

	return []byte(str)
}

// mergeConfig merges non-zero fields of source into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}

	c := source.Completion
	if c.Provider != "" {
		target.Completion.Provider = c.Provider
	}
	if c.URL != "" {
		target.Completion.URL = c.URL
	}
	if c.Model != "" {
		target.Completion.Model = c.Model
	}
	if c.APIKey != "" {
		target.Completion.APIKey = c.APIKey
	}
	if c.BaseURL != "" {
		target.Completion.BaseURL = c.BaseURL
	}
	if c.Timeout != 0 {
		target.Completion.Timeout = c.Timeout
	}
	if c.MaxRetries != nil {
		n := *c.MaxRetries
		target.Completion.MaxRetries = &n
	}
	if c.SystemPrompt != "" {
		target.Completion.SystemPrompt = c.SystemPrompt
	}

	if source.Server.Hostname != "" {
		target.Server.Hostname = source.Server.Hostname
	}
	if source.Server.Port != 0 {
		target.Server.Port = source.Server.Port
	}
	if source.Server.DisableCORS {
		target.Server.DisableCORS = true
	}

	if source.Storage.Dir != "" {
		target.Storage.Dir = source.Storage.Dir
	}
	if source.Storage.Ephemeral {
		target.Storage.Ephemeral = true
	}

	if source.Log.Level != "" {
		target.Log.Level = source.Log.Level
	}
	if source.Log.Pretty {
		target.Log.Pretty = true
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	strs := map[string]*string{
		"ASSISTANT_COMPLETION_PROVIDER": &config.Completion.Provider,
		"ASSISTANT_COMPLETION_URL":      &config.Completion.URL,
		"ASSISTANT_COMPLETION_API_KEY":  &config.Completion.APIKey,
		"ASSISTANT_MODEL":               &config.Completion.Model,
		"ASSISTANT_SYSTEM_PROMPT":       &config.Completion.SystemPrompt,
		"ASSISTANT_HOSTNAME":            &config.Server.Hostname,
		"ASSISTANT_STORAGE_DIR":         &config.Storage.Dir,
		"ASSISTANT_LOG_LEVEL":           &config.Log.Level,
	}
	for env, field := range strs {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}

	if v := os.Getenv("ASSISTANT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("ASSISTANT_COMPLETION_TIMEOUT"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			config.Completion.Timeout = ms
		}
	}

	// The openai provider falls back to the conventional key variable.
	if config.Completion.APIKey == "" && strings.EqualFold(config.Completion.Provider, "openai") {
		config.Completion.APIKey = os.Getenv("OPENAI_API_KEY")
	}
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// StorageDir resolves where the history slot lives.
func StorageDir(config *types.Config) string {
	if config.Storage.Dir != "" {
		return config.Storage.Dir
	}
	return GetPaths().StoragePath()
}
