// Package config provides configuration loading, merging, and path management
// for the assistant.
//
// # Configuration Loading
//
// Load merges configuration from these sources, later ones winning:
//
//  1. Global config (~/.config/ciedenmanager/assistant.json[c])
//  2. Project config (.assistant/assistant.json[c] under the given directory)
//  3. ASSISTANT_CONFIG file
//  4. ASSISTANT_CONFIG_CONTENT inline JSON
//  5. Environment variables (ASSISTANT_COMPLETION_URL, ASSISTANT_PORT, ...)
//
// Only non-zero fields override earlier values.
//
// # Supported Formats
//
// Files may be plain JSON or JSONC; comments and trailing commas are stripped
// with tidwall/jsonc.
//
// # Variable Interpolation
//
//   - {env:VAR_NAME} expands to the environment variable value
//   - {file:path} expands to the file contents, escaped for a JSON string
//
// Relative {file:} paths resolve against the config file's directory; ~/
// expands to HOME. A missing file leaves the placeholder untouched.
//
// # Paths
//
// GetPaths follows the XDG base directory layout. The chat history slot lives
// under Paths.StoragePath unless storage.dir is configured.
package config
