package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmharte/secprobe/pkg/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secprobe.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("could not write config: %v", err)
	}
	return path
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeConfig(t, `
defaults:
  transport: wsman
  username: probe-svc
  password: hunter2
  check_reachability: true
hosts:
  - host: ws1.corp.example
  - host: srv1.corp.example
    transport: dcom
    check_reachability: false
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	targets, err := cfg.Targets()
	if err != nil {
		t.Fatalf("Targets failed: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 targets, got %d", len(targets))
	}

	ws := targets[0]
	if ws.Host != "ws1.corp.example" {
		t.Errorf("host = %q", ws.Host)
	}
	if ws.Transport != transport.KindWSMan {
		t.Errorf("transport = %q, want wsman default", ws.Transport)
	}
	if !ws.CheckReachability {
		t.Error("check_reachability default not applied")
	}
	if ws.Credentials == nil || ws.Credentials.Username != "probe-svc" || ws.Credentials.Password != "hunter2" {
		t.Errorf("credentials not inherited: %+v", ws.Credentials)
	}

	srv := targets[1]
	if srv.Transport != transport.KindDCOM {
		t.Errorf("per-host transport override lost: %q", srv.Transport)
	}
	if srv.CheckReachability {
		t.Error("per-host check_reachability override lost")
	}
}

func TestLoad_SweepDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "hosts:\n  - host: a\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Sweep.Workers != DefaultWorkers {
		t.Errorf("workers = %d, want %d", cfg.Sweep.Workers, DefaultWorkers)
	}
	if cfg.Hosts[0].Transport != string(transport.DefaultKind) {
		t.Errorf("transport = %q, want default %q", cfg.Hosts[0].Transport, transport.DefaultKind)
	}
	if cfg.Hosts[0].TimeoutMs != DefaultTimeoutMs {
		t.Errorf("timeout_ms = %d, want %d", cfg.Hosts[0].TimeoutMs, DefaultTimeoutMs)
	}
}

func TestLoad_PasswordEnv(t *testing.T) {
	t.Setenv("SECPROBE_TEST_PASSWORD", "s3cret")

	cfg, err := Load(writeConfig(t, `
hosts:
  - host: ws1
    username: probe-svc
    password_env: SECPROBE_TEST_PASSWORD
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	targets, err := cfg.Targets()
	if err != nil {
		t.Fatalf("Targets failed: %v", err)
	}
	if targets[0].Credentials.Password != "s3cret" {
		t.Errorf("password = %q, want value from environment", targets[0].Credentials.Password)
	}
}

func TestTargets_MissingPasswordEnv(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
hosts:
  - host: ws1
    username: probe-svc
    password_env: SECPROBE_TEST_UNSET_VAR
`))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := cfg.Targets(); err == nil {
		t.Error("expected error for empty password environment variable")
	}
}

func TestLoad_NoCredentialsMeansAmbient(t *testing.T) {
	cfg, err := Load(writeConfig(t, "hosts:\n  - host: ws1\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	targets, err := cfg.Targets()
	if err != nil {
		t.Fatalf("Targets failed: %v", err)
	}
	if targets[0].Credentials != nil {
		t.Error("expected nil credentials (ambient identity) when no username set")
	}
}

func TestLoad_PerHostTimeout(t *testing.T) {
	path := writeConfig(t, `
defaults:
  timeout_ms: 10000
hosts:
  - host: ws1
  - host: slow1
    timeout_ms: 60000
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	targets, err := cfg.Targets()
	if err != nil {
		t.Fatalf("Targets failed: %v", err)
	}

	if targets[0].Timeout != 10*time.Second {
		t.Errorf("ws1 timeout = %v, want inherited 10s", targets[0].Timeout)
	}
	if targets[1].Timeout != 60*time.Second {
		t.Errorf("slow1 timeout = %v, want per-host 60s", targets[1].Timeout)
	}
}

func TestLoad_TransportOptions(t *testing.T) {
	path := writeConfig(t, `
hosts:
  - host: ws1
transport_options:
  port: 5986
  tls: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	opts := cfg.TransportOptions()
	if opts.Port != 5986 {
		t.Errorf("port = %d, want 5986", opts.Port)
	}
	if !opts.TLS {
		t.Error("tls not carried into transport options")
	}
	if opts.Timeout != time.Duration(DefaultTimeoutMs)*time.Millisecond {
		t.Errorf("timeout = %v, want fallback default", opts.Timeout)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"no hosts", "sweep:\n  workers: 4\n"},
		{"empty host", "hosts:\n  - transport: dcom\n"},
		{"duplicate host", "hosts:\n  - host: a\n  - host: a\n"},
		{"bad transport", "hosts:\n  - host: a\n    transport: ssh\n"},
		{"password conflict", "hosts:\n  - host: a\n    password: x\n    password_env: Y\n"},
		{"negative rate", "hosts:\n  - host: a\nsweep:\n  rate_per_second: -1\n"},
		{"port out of range", "hosts:\n  - host: a\ntransport_options:\n  port: 70000\n"},
	}

	for _, tc := range cases {
		if _, err := Load(writeConfig(t, tc.content)); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoad_MalformedYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "hosts: [")); err == nil {
		t.Error("expected error for malformed YAML")
	}
}
