package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewLoader_DefaultsWithNoConfigFile(t *testing.T) {
	dir := t.TempDir()
	cwd, _ := os.Getwd()
	defer os.Chdir(cwd)
	os.Chdir(dir)

	l, err := NewLoader("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rc := l.Snapshot()
	if rc.MaxNodeExecutions != 500 {
		t.Fatalf("expected default max_node_executions=500, got %d", rc.MaxNodeExecutions)
	}
	if rc.DispatchNamespace != "default" {
		t.Fatalf("expected default dispatch namespace, got %q", rc.DispatchNamespace)
	}
}

func TestNewLoader_ReadsExplicitConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "flowruntime.yaml")
	contents := `
providers:
  enabled: ["anthropic", "openai"]
  default_model_id: "claude-x"
  anthropic:
    api_key: "sk-test"
dispatch:
  namespace: "llmctl"
  image: "executor:v1"
scheduler:
  max_node_executions: 200
`
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("fixture setup failed: %v", err)
	}

	l, err := NewLoader(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rc := l.Snapshot()
	if rc.DefaultModelID != "claude-x" {
		t.Fatalf("expected default_model_id to load from file, got %q", rc.DefaultModelID)
	}
	if rc.DispatchNamespace != "llmctl" {
		t.Fatalf("expected dispatch namespace to load from file, got %q", rc.DispatchNamespace)
	}
	if rc.MaxNodeExecutions != 200 {
		t.Fatalf("expected overridden max_node_executions, got %d", rc.MaxNodeExecutions)
	}
	cred, ok := rc.ProviderCreds["anthropic"]
	if !ok || cred.APIKey != "sk-test" {
		t.Fatalf("expected anthropic credential to be loaded, got %+v", rc.ProviderCreds)
	}
}
