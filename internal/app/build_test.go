package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ent0n29/docvoice/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pricing.md"), []byte("Plans start at ten dollars.\n"), 0o644); err != nil {
		t.Fatalf("write doc: %v", err)
	}
	return config.Config{
		BindAddr:           ":0",
		MetricsNamespace:   fmt.Sprintf("docvoice_app_test_%d", time.Now().UnixNano()),
		SessionRetention:   time.Minute,
		CredentialCacheTTL: time.Minute,
		OpenAIAPIKey:       "sk-test",
		RealtimeURL:        "wss://example.invalid/v1/realtime",
		RealtimeModel:      "test-model",
		DocumentsDir:       dir,
		Profile:            config.DefaultProfile(),
	}
}

func TestBuildWiresIndexAndCredentials(t *testing.T) {
	cfg := testConfig(t)
	res, err := Build(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if got := res.Index.Len(); got != 1 {
		t.Fatalf("Index.Len() = %d, want 1", got)
	}
	if res.API == nil || res.Relay == nil || res.Sessions == nil {
		t.Fatalf("Build() left components nil: %+v", res)
	}
	if want := "env (cached 1m0s)"; res.Credentials != want {
		t.Fatalf("Credentials = %q, want %q", res.Credentials, want)
	}
}

func TestResolveCredentialsWithoutKey(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAIAPIKey = ""
	setup, err := resolveCredentials(context.Background(), cfg)
	if err != nil {
		t.Fatalf("resolveCredentials() error = %v", err)
	}
	if setup.provider != nil {
		t.Fatalf("provider = %T, want nil", setup.provider)
	}
}

func TestResolveCredentialsZeroTTLSkipsCache(t *testing.T) {
	cfg := testConfig(t)
	cfg.CredentialCacheTTL = 0
	setup, err := resolveCredentials(context.Background(), cfg)
	if err != nil {
		t.Fatalf("resolveCredentials() error = %v", err)
	}
	if setup.detail != "env" {
		t.Fatalf("detail = %q, want env", setup.detail)
	}
	got, err := setup.provider.Credential(context.Background())
	if err != nil || got != "sk-test" {
		t.Fatalf("Credential() = %q, %v", got, err)
	}
}

func TestResolveSourcesRequiresOne(t *testing.T) {
	cfg := testConfig(t)
	cfg.DocumentsDir = ""
	if _, err := resolveSources(context.Background(), cfg); err == nil {
		t.Fatalf("resolveSources() error = nil, want error")
	}
}
