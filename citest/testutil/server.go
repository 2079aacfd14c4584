package testutil

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/DmytroChyzh/ciedenmanager/internal/chat"
	"github.com/DmytroChyzh/ciedenmanager/internal/completion"
	"github.com/DmytroChyzh/ciedenmanager/internal/history"
	"github.com/DmytroChyzh/ciedenmanager/internal/server"
	"github.com/DmytroChyzh/ciedenmanager/internal/storage"
	"github.com/DmytroChyzh/ciedenmanager/pkg/types"
)

// TestServer wraps a running API server backed by file storage.
type TestServer struct {
	Server     *server.Server
	Controller *chat.Controller
	BaseURL    string
	Config     *types.Config
	Storage    *storage.Storage
	StorageDir string
	TempDir    string
	port       int
}

// TestServerOption configures TestServer
type TestServerOption func(*testServerConfig)

type testServerConfig struct {
	completionURL string
	storageDir    string
	systemPrompt  string
	envFile       string
}

// WithCompletionURL points the server at a completion endpoint.
func WithCompletionURL(url string) TestServerOption {
	return func(c *testServerConfig) {
		c.completionURL = url
	}
}

// WithStorageDir reuses an existing storage directory, as after a restart.
func WithStorageDir(dir string) TestServerOption {
	return func(c *testServerConfig) {
		c.storageDir = dir
	}
}

// WithSystemPrompt sets the system directive.
func WithSystemPrompt(prompt string) TestServerOption {
	return func(c *testServerConfig) {
		c.systemPrompt = prompt
	}
}

// WithEnvFile sets the .env file to load
func WithEnvFile(path string) TestServerOption {
	return func(c *testServerConfig) {
		c.envFile = path
	}
}

// StartTestServer creates and starts a test server
func StartTestServer(opts ...TestServerOption) (*TestServer, error) {
	cfg := &testServerConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.envFile != "" {
		_ = godotenv.Load(cfg.envFile)
	} else {
		_ = godotenv.Load("../../.env")
	}
	if cfg.completionURL == "" {
		cfg.completionURL = os.Getenv("ASSISTANT_COMPLETION_URL")
	}
	if cfg.completionURL == "" {
		return nil, fmt.Errorf("no completion URL configured")
	}

	tempDir, err := os.MkdirTemp("", "assistant-test-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	storageDir := cfg.storageDir
	if storageDir == "" {
		storageDir = filepath.Join(tempDir, "storage")
	}
	if err := os.MkdirAll(storageDir, 0755); err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}

	port, err := findAvailablePort()
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to find available port: %w", err)
	}

	appConfig := buildTestConfig(cfg, port, storageDir)
	ctx := context.Background()

	completer, err := completion.New(ctx, appConfig.Completion)
	if err != nil {
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("failed to build completer: %w", err)
	}

	store := storage.New(storageDir)
	ctrl := chat.Open(ctx, history.New(store), completer, chat.Options{
		SystemPrompt: appConfig.Completion.SystemPrompt,
	})

	srv := server.New(server.FromSettings(appConfig.Server), ctrl)
	go func() {
		_ = srv.Start()
	}()

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	if err := waitForServer(baseURL, 10*time.Second); err != nil {
		srv.Shutdown(ctx)
		ctrl.Close()
		os.RemoveAll(tempDir)
		return nil, fmt.Errorf("server failed to start: %w", err)
	}

	return &TestServer{
		Server:     srv,
		Controller: ctrl,
		BaseURL:    baseURL,
		Config:     appConfig,
		Storage:    store,
		StorageDir: storageDir,
		TempDir:    tempDir,
		port:       port,
	}, nil
}

// Stop shuts down the server. Storage is removed only when it lives in the
// server's own temp dir.
func (ts *TestServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if ts.Server != nil {
		if err := ts.Server.Shutdown(ctx); err != nil {
			return err
		}
	}
	if ts.Controller != nil {
		ts.Controller.Close()
	}
	if ts.TempDir != "" {
		os.RemoveAll(ts.TempDir)
	}
	return nil
}

// Client returns a new test client for this server
func (ts *TestServer) Client() *TestClient {
	return NewTestClient(ts.BaseURL)
}

// SSEClient returns a new SSE client for this server
func (ts *TestServer) SSEClient() *SSEClient {
	return NewSSEClient(ts.BaseURL)
}

func buildTestConfig(cfg *testServerConfig, port int, storageDir string) *types.Config {
	noRetries := 0
	return &types.Config{
		Completion: types.CompletionConfig{
			Provider:     completion.ProviderHTTP,
			URL:          cfg.completionURL,
			Timeout:      5000,
			MaxRetries:   &noRetries,
			SystemPrompt: cfg.systemPrompt,
		},
		Server: types.ServerConfig{
			Hostname: "127.0.0.1",
			Port:     port,
		},
		Storage: types.StorageConfig{Dir: storageDir},
	}
}

// findAvailablePort finds an available TCP port
func findAvailablePort() (int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// waitForServer waits for the server to be ready
func waitForServer(baseURL string, timeout time.Duration) error {
	client := NewTestClient(baseURL)
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		resp, err := client.Get(context.Background(), "/chat/status")
		if err == nil && resp.IsSuccess() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("server not ready after %v", timeout)
}
