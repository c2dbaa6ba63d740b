package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ecairns22/deploywait/internal/health"
)

func writeTestConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "deploywait.conf")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeDSNFile(t *testing.T, dir, dsn string) string {
	t.Helper()
	path := filepath.Join(dir, "history.dsn")
	if err := os.WriteFile(path, []byte(dsn), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `[poll]
timeout            = "90s"
interval           = "500ms"
request_timeout    = "10s"
fail_on_http_error = true

[dns]
servers = ["9.9.9.9", "127.0.0.1:5353"]

[http]
headers = { "User-Agent" = "deploywait-ci", "X-Preview" = "1" }

[history]
driver = "sqlite"
path   = "/tmp/deploywait-test/runs.db"
keep   = 20

[github]
token = "ghp_testtoken123"
owner = "testowner"

[log]
level = "debug"

[metrics]
textfile = "/var/lib/node_exporter/textfile/deploywait.prom"
`

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Poll.Timeout.Std() != 90*time.Second {
		t.Errorf("timeout = %s, want 90s", cfg.Poll.Timeout.Std())
	}
	if cfg.Poll.Interval.Std() != 500*time.Millisecond {
		t.Errorf("interval = %s, want 500ms", cfg.Poll.Interval.Std())
	}
	if cfg.Poll.RequestTimeout.Std() != 10*time.Second {
		t.Errorf("request_timeout = %s, want 10s", cfg.Poll.RequestTimeout.Std())
	}
	if !cfg.Poll.FailOnHTTPError {
		t.Error("fail_on_http_error = false, want true")
	}
	if len(cfg.DNS.Servers) != 2 || cfg.DNS.Servers[1] != "127.0.0.1:5353" {
		t.Errorf("dns servers = %v", cfg.DNS.Servers)
	}
	if cfg.HTTP.Headers["X-Preview"] != "1" {
		t.Errorf("headers = %v", cfg.HTTP.Headers)
	}
	if cfg.History.Keep != 20 {
		t.Errorf("keep = %d, want 20", cfg.History.Keep)
	}
	if cfg.GitHub.Owner != "testowner" {
		t.Errorf("owner = %q, want %q", cfg.GitHub.Owner, "testowner")
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}

	if cfg.Metrics.Textfile != "/var/lib/node_exporter/textfile/deploywait.prom" {
		t.Errorf("metrics textfile = %q", cfg.Metrics.Textfile)
	}

	pc := cfg.PollerConfig()
	if pc.Timeout != 90*time.Second || pc.Interval != 500*time.Millisecond || !pc.FailOnHTTPError {
		t.Errorf("poller config = %+v", pc)
	}
	if pc.Headers["User-Agent"] != "deploywait-ci" {
		t.Errorf("poller headers = %v", pc.Headers)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFrom("/nonexistent/path/deploywait.conf")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "/nonexistent/path/deploywait.conf") {
		t.Errorf("error should name the path, got: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "[github]\nowner = \"acme\"\n")

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Poll.Timeout.Std() != health.DefaultTimeout {
		t.Errorf("default timeout = %s, want %s", cfg.Poll.Timeout.Std(), health.DefaultTimeout)
	}
	if cfg.Poll.Interval.Std() != time.Second {
		t.Errorf("default interval = %s, want 1s", cfg.Poll.Interval.Std())
	}
	if len(cfg.DNS.Servers) != 4 || cfg.DNS.Servers[0] != "1.1.1.1" {
		t.Errorf("default dns servers = %v", cfg.DNS.Servers)
	}
	if cfg.History.Driver != HistorySQLite {
		t.Errorf("default driver = %q, want sqlite", cfg.History.Driver)
	}
	if !strings.HasSuffix(cfg.History.Path, filepath.Join(".local", "state", "deploywait", "runs.db")) {
		t.Errorf("default history path = %q", cfg.History.Path)
	}
	if strings.HasPrefix(cfg.History.Path, "~") {
		t.Errorf("history path should be home-expanded, got %q", cfg.History.Path)
	}
	if cfg.History.Keep != 500 {
		t.Errorf("default keep = %d, want 500", cfg.History.Keep)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("default log level = %q, want warn", cfg.Log.Level)
	}
}

func TestDefaultServersNotShared(t *testing.T) {
	cfg := Default()
	cfg.DNS.Servers[0] = "192.0.2.1"
	if health.DefaultDNSServers[0] != "1.1.1.1" {
		t.Fatal("mutating config servers must not change the package defaults")
	}
}

func TestLoadInvalid(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad duration", "[poll]\ntimeout = \"soon\"\n", "invalid duration"},
		{"negative interval", "[poll]\ninterval = \"-1s\"\n", "poll.interval"},
		{"interval exceeds timeout", "[poll]\ntimeout = \"2s\"\ninterval = \"5s\"\n", "exceeds poll.timeout"},
		{"negative request timeout", "[poll]\nrequest_timeout = \"-1s\"\n", "request_timeout"},
		{"unknown driver", "[history]\ndriver = \"postgres\"\n", "unknown history.driver"},
		{"mysql without dsn", "[history]\ndriver = \"mysql\"\n", "history.dsn_file"},
		{"mysql dsn missing", "[history]\ndriver = \"mysql\"\ndsn_file = \"/nonexistent/dsn\"\n", "/nonexistent/dsn"},
		{"negative keep", "[history]\nkeep = -1\n", "history.keep"},
	}
	for _, tc := range cases {
		dir := t.TempDir()
		path := writeTestConfig(t, dir, tc.content)
		_, err := LoadFrom(path)
		if err == nil {
			t.Errorf("%s: expected error", tc.name)
			continue
		}
		if !strings.Contains(err.Error(), tc.wantErr) {
			t.Errorf("%s: error should mention %q, got: %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestMySQLDSNFromFile(t *testing.T) {
	dir := t.TempDir()
	dsnFile := writeDSNFile(t, dir, "dw:secret@tcp(127.0.0.1:3306)/deploywait\n")
	content := "[history]\ndriver = \"mysql\"\ndsn_file = \"" + dsnFile + "\"\n"
	path := writeTestConfig(t, dir, content)

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.History.DSN != "dw:secret@tcp(127.0.0.1:3306)/deploywait" {
		t.Errorf("dsn = %q", cfg.History.DSN)
	}
	if cfg.History.Path != "" {
		t.Errorf("mysql driver should not get a sqlite path, got %q", cfg.History.Path)
	}
}

func TestMySQLEmptyDSN(t *testing.T) {
	dir := t.TempDir()
	dsnFile := writeDSNFile(t, dir, "  \n")
	content := "[history]\ndriver = \"mysql\"\ndsn_file = \"" + dsnFile + "\"\n"
	path := writeTestConfig(t, dir, content)

	_, err := LoadFrom(path)
	if err == nil || !strings.Contains(err.Error(), "is empty") {
		t.Errorf("expected empty DSN error, got: %v", err)
	}
}

func TestTemplateConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, TemplateConfig())

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("template should load cleanly: %v", err)
	}
	if cfg.Poll.Timeout.Std() != 5*time.Minute {
		t.Errorf("template timeout = %s, want 5m", cfg.Poll.Timeout.Std())
	}
	if len(cfg.DNS.Servers) != 4 {
		t.Errorf("template dns servers = %v", cfg.DNS.Servers)
	}
}

func TestEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir, "[github]\nowner = \"envowner\"\n")

	t.Setenv(envOverride, path)
	got := DefaultPath()
	if got != path {
		t.Errorf("DefaultPath() = %q, want %q", got, path)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.GitHub.Owner != "envowner" {
		t.Errorf("owner = %q, want %q", cfg.GitHub.Owner, "envowner")
	}
}

func TestEnvOverrideMissingFile(t *testing.T) {
	t.Setenv(envOverride, filepath.Join(t.TempDir(), "missing.conf"))
	if _, err := Load(); err == nil {
		t.Fatal("a missing explicitly configured file should be an error")
	}
}
