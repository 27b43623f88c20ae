package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	root := NewRootCmd("test")
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/templates", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  []TemplateSummary{{Name: "nightly", FTNumber: "FT-2001", Steps: 2}},
			"total": 1,
		})
	})
	mux.HandleFunc("GET /api/v1/templates/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"name":     "nightly",
			"template": map[string]any{"metadata": map[string]any{"ft_number": "FT-2001"}},
		}})
	})
	mux.HandleFunc("POST /api/v1/templates/plan", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": PlanResponse{FTNumber: "FT-2001", Steps: 3, Waves: [][]int{{1, 2}, {3}}}})
	})
	mux.HandleFunc("POST /api/v1/templates/{name}/deployments", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(UserHeader) != "bob" {
			writeError(w, http.StatusBadRequest, "BAD_REQUEST", "missing user")
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"data": DeploymentAccepted{RunID: "run-1", Status: "loading"}})
	})
	mux.HandleFunc("GET /api/v1/deployments/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, 1, `{"message":"[10:00:00] Deployment started"}`)
		writeEvent(w, 1, `{"status":"failed","message":"Deployment failed."}`)
	})
	mux.HandleFunc("GET /api/v1/deployments/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, LogsResponse{Status: "running", Logs: []string{"[10:00:00] a", "[10:00:01] b"}})
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

// --- Root command Tests ---

func TestRoot_TemplateList(t *testing.T) {
	server := fakeAPI(t)

	stdout, _, err := executeRoot(t, "--api-url", server.URL, "template", "list")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(stdout, "NAME") || !strings.Contains(stdout, "nightly") || !strings.Contains(stdout, "FT-2001") {
		t.Errorf("unexpected table:\n%s", stdout)
	}
}

func TestRoot_APIURLFromEnv(t *testing.T) {
	server := fakeAPI(t)
	t.Setenv("ROLLOUT_API_URL", server.URL)

	stdout, _, err := executeRoot(t, "template", "list", "--json")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(stdout), "[") {
		t.Errorf("expected JSON list, got:\n%s", stdout)
	}
}

func TestRoot_ConfigFile(t *testing.T) {
	server := fakeAPI(t)

	cfg := filepath.Join(t.TempDir(), "rollout.yaml")
	if err := os.WriteFile(cfg, []byte("api-url: "+server.URL+"\nuser: bob\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	_, stderr, err := executeRoot(t, "--config", cfg, "deploy", "submit", "--template", "nightly")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(stderr, "Deployment started: run-1") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

func TestRoot_TemplateShowYAML(t *testing.T) {
	server := fakeAPI(t)

	stdout, _, err := executeRoot(t, "--api-url", server.URL, "template", "show", "nightly")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(stdout, "ft_number: FT-2001") {
		t.Errorf("expected YAML output, got:\n%s", stdout)
	}
}

func TestRoot_TemplatePlan(t *testing.T) {
	server := fakeAPI(t)

	path := filepath.Join(t.TempDir(), "tpl.json")
	if err := os.WriteFile(path, []byte(`{"metadata":{"ft_number":"FT-2001"}}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	stdout, _, err := executeRoot(t, "--api-url", server.URL, "template", "plan", "-f", path)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(stdout, "1,2") || !strings.Contains(stdout, "3") {
		t.Errorf("unexpected plan output:\n%s", stdout)
	}
}

func TestRoot_DeploySubmitNeedsOneSource(t *testing.T) {
	_, _, err := executeRoot(t, "deploy", "submit")
	if err == nil || !strings.Contains(err.Error(), "exactly one") {
		t.Errorf("expected source error, got %v", err)
	}

	_, _, err = executeRoot(t, "deploy", "submit", "-f", "a.yaml", "--template", "b")
	if err == nil {
		t.Error("expected error for both sources")
	}
}

func TestRoot_DeployLogs(t *testing.T) {
	server := fakeAPI(t)

	stdout, stderr, err := executeRoot(t, "--api-url", server.URL, "deploy", "logs", "run-1")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if stdout != "[10:00:00] a\n[10:00:01] b\n" {
		t.Errorf("unexpected logs %q", stdout)
	}
	if !strings.Contains(stderr, "--follow") {
		t.Errorf("expected follow hint for running deployment, got %q", stderr)
	}

	stdout, _, err = executeRoot(t, "--api-url", server.URL, "deploy", "logs", "run-1", "--follow")
	if !errors.Is(err, ErrDeploymentFailed) {
		t.Fatalf("expected ErrDeploymentFailed, got %v", err)
	}
	if stdout != "[10:00:00] Deployment started\n" {
		t.Errorf("unexpected followed logs %q", stdout)
	}
}
