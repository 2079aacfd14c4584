package types

import "time"

// Config represents the assistant configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty"`

	Completion CompletionConfig `json:"completion"`
	Server     ServerConfig     `json:"server"`
	Storage    StorageConfig    `json:"storage"`
	Log        LogConfig        `json:"log"`
}

// CompletionConfig configures the remote completion service.
type CompletionConfig struct {
	// Provider selects the backend: "http" (default) posts to URL using the
	// {messages} -> {text} contract, "openai" talks to an OpenAI-compatible API.
	Provider string `json:"provider,omitempty"`
	URL      string `json:"url,omitempty"`
	Model    string `json:"model,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	BaseURL  string `json:"baseURL,omitempty"`

	// Timeout in milliseconds; 0 uses the default.
	Timeout    int  `json:"timeout,omitempty"`
	MaxRetries *int `json:"maxRetries,omitempty"`

	// SystemPrompt is sent as the first turn of every request.
	SystemPrompt string `json:"systemPrompt,omitempty"`
}

// TimeoutDuration returns the configured timeout or def when unset.
func (c CompletionConfig) TimeoutDuration(def time.Duration) time.Duration {
	if c.Timeout <= 0 {
		return def
	}
	return time.Duration(c.Timeout) * time.Millisecond
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Hostname    string `json:"hostname,omitempty"`
	Port        int    `json:"port,omitempty"`
	DisableCORS bool   `json:"disableCORS,omitempty"`
}

// StorageConfig configures where chat history is kept.
type StorageConfig struct {
	// Dir overrides the default data directory.
	Dir string `json:"dir,omitempty"`
	// Ephemeral keeps history in memory only.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level,omitempty"`
	Pretty bool   `json:"pretty,omitempty"`
}
