package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, map[string]any{"error": map[string]string{"code": code, "message": msg}})
}

// dropConnection обрывает соединение без ответа.
func dropConnection(t *testing.T, w http.ResponseWriter) {
	t.Helper()

	conn, _, err := http.NewResponseController(w).Hijack()
	if err != nil {
		t.Errorf("hijack: %v", err)
		return
	}
	conn.Close()
}

func writeEvent(w http.ResponseWriter, id int, payload string) {
	fmt.Fprintf(w, "id: %d\ndata: %s\n\n", id, payload)
	http.NewResponseController(w).Flush()
}

// --- Client Tests ---

func TestClient_TemplatesAndErrors(t *testing.T) {
	var gotUser, gotBody string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/templates", func(w http.ResponseWriter, r *http.Request) {
		gotUser = r.Header.Get(UserHeader)
		writeJSON(w, http.StatusOK, map[string]any{
			"data":  []TemplateSummary{{Name: "nightly", FTNumber: "FT-1", Steps: 2}},
			"total": 1,
		})
	})
	mux.HandleFunc("PUT /api/v1/templates/{name}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"name":     r.PathValue("name"),
			"template": json.RawMessage(body),
		}})
	})
	mux.HandleFunc("GET /api/v1/templates/{name}", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "template not found")
	})
	mux.HandleFunc("DELETE /api/v1/templates/{name}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	client := NewClient(server.URL, "alice")
	ctx := context.Background()

	templates, err := client.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(templates) != 1 || templates[0].Name != "nightly" {
		t.Errorf("unexpected templates %+v", templates)
	}
	if gotUser != "alice" {
		t.Errorf("expected user header alice, got %q", gotUser)
	}

	saved, err := client.SaveTemplate(ctx, "nightly", []byte(`{"metadata":{"ft_number":"FT-1"}}`))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if saved.Name != "nightly" || !strings.Contains(gotBody, "FT-1") {
		t.Errorf("unexpected save result %+v, body %q", saved, gotBody)
	}

	_, err = client.GetTemplate(ctx, "missing")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err.Error() != "NOT_FOUND: template not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if IsTransportError(err) {
		t.Error("API errors are not transport errors")
	}

	if err := client.DeleteTemplate(ctx, "nightly"); err != nil {
		t.Errorf("delete: %v", err)
	}
}

func TestClient_TransportError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := NewClient(url, "").ListDeployments(context.Background(), 5)
	if !IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

// --- StreamEvents Tests ---

func TestStreamEvents(t *testing.T) {
	var lastEventID string
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/deployments/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		lastEventID = r.Header.Get("Last-Event-ID")
		w.Header().Set("Content-Type", "text/event-stream")
		writeEvent(w, 3, `{"message":"[10:00:00] line 3"}`)
		writeEvent(w, 4, `{"message":"[10:00:01] line 4"}`)
		writeEvent(w, 4, `{"status":"success","message":"Deployment success."}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	var events []Event
	err := NewClient(server.URL, "").StreamEvents(context.Background(), "run-1", 2, func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}

	if lastEventID != "2" {
		t.Errorf("expected Last-Event-ID 2, got %q", lastEventID)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].ID != 3 || events[0].Message != "[10:00:00] line 3" || events[0].Final() {
		t.Errorf("unexpected first event %+v", events[0])
	}
	if !events[2].Final() || events[2].Status != "success" {
		t.Errorf("unexpected final event %+v", events[2])
	}
}

func TestStreamEvents_EndedWithoutStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/deployments/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, 1, `{"message":"only line"}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	err := NewClient(server.URL, "").StreamEvents(context.Background(), "run-1", 0, func(Event) error { return nil })
	if !IsTransportError(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

func TestStreamEvents_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/deployments/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "deployment not found")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	err := NewClient(server.URL, "").StreamEvents(context.Background(), "run-1", 0, func(Event) error { return nil })
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// --- Follow Tests ---

func TestFollow_SSE(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/deployments/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, 1, `{"message":"one"}`)
		writeEvent(w, 2, `{"message":"two"}`)
		writeEvent(w, 2, `{"status":"failed","message":"Deployment failed."}`)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	var out bytes.Buffer
	status, err := NewClient(server.URL, "").Follow(context.Background(), "run-1", &out, FollowOptions{Logger: discardLogger()})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}
	if status != "failed" {
		t.Errorf("expected failed, got %q", status)
	}
	if out.String() != "one\ntwo\n" {
		t.Errorf("unexpected output %q", out.String())
	}
}

func TestFollow_FallsBackToPolling(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/deployments/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		writeEvent(w, 1, `{"message":"one"}`)
		writeEvent(w, 2, `{"message":"two"}`)
		// Обрыв без финального события.
	})
	mux.HandleFunc("GET /api/v1/deployments/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		switch polls.Add(1) {
		case 1:
			dropConnection(t, w)
		case 2:
			writeJSON(w, http.StatusOK, LogsResponse{Status: "running", Logs: []string{"one", "two", "three"}})
		default:
			writeJSON(w, http.StatusOK, LogsResponse{Status: "success", Logs: []string{"one", "two", "three", "four"}, Completed: true})
		}
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	var out bytes.Buffer
	status, err := NewClient(server.URL, "").Follow(context.Background(), "run-1", &out, FollowOptions{
		PollInterval:    5 * time.Millisecond,
		MaxPollInterval: 20 * time.Millisecond,
		Logger:          discardLogger(),
	})
	if err != nil {
		t.Fatalf("follow: %v", err)
	}

	if status != "success" {
		t.Errorf("expected success, got %q", status)
	}
	if out.String() != "one\ntwo\nthree\nfour\n" {
		t.Errorf("each line must be printed exactly once, got %q", out.String())
	}
	if polls.Load() != 3 {
		t.Errorf("expected 3 polls, got %d", polls.Load())
	}
}

func TestFollow_PollStopsOnAPIError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/deployments/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "deployment not found")
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	_, err := NewClient(server.URL, "").Follow(context.Background(), "run-1", io.Discard, FollowOptions{
		Poll:   true,
		Logger: discardLogger(),
	})
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// --- Template file Tests ---

func TestReadTemplateFile_YAMLToJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tpl.yaml")
	content := "metadata:\n  ft_number: FT-9\nsteps:\n  - order: 1\n    type: service_restart\n    targetVMs: [vm-a]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := readTemplateFile(nil, path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var doc struct {
		Metadata struct {
			FTNumber string `json:"ft_number"`
		} `json:"metadata"`
		Steps []struct {
			Order     int      `json:"order"`
			TargetVMs []string `json:"targetVMs"`
		} `json:"steps"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("result is not JSON: %v (%s)", err, data)
	}
	if doc.Metadata.FTNumber != "FT-9" || len(doc.Steps) != 1 || doc.Steps[0].TargetVMs[0] != "vm-a" {
		t.Errorf("unexpected conversion %s", data)
	}

	stdin := strings.NewReader(`{"metadata":{"ft_number":"FT-1"}}`)
	data, err = readTemplateFile(stdin, "-")
	if err != nil || !bytes.HasPrefix(data, []byte("{")) {
		t.Errorf("JSON from stdin should pass through, got %q %v", data, err)
	}

	if _, err := readTemplateFile(nil, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
