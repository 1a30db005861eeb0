package jobsvc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/pipetrace/agent/internal/pipeline"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestHTTPClient_Upload_Success(t *testing.T) {
	var gotName, gotContent, gotRequestID string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/upload" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotRequestID = r.Header.Get(HeaderRequestID)

		file, header, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		gotName = header.Filename
		gotContent = string(data)

		json.NewEncoder(w).Encode(UploadResult{Success: true, Filename: header.Filename})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	result, err := client.Upload(context.Background(), "report.pdf", strings.NewReader("%PDF-1.4 body"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Success || result.Filename != "report.pdf" {
		t.Errorf("result = %+v", result)
	}
	if gotName != "report.pdf" {
		t.Errorf("filename = %q, want %q", gotName, "report.pdf")
	}
	if gotContent != "%PDF-1.4 body" {
		t.Errorf("content = %q", gotContent)
	}
	if gotRequestID == "" {
		t.Error("expected X-Request-Id header")
	}
}

func TestHTTPClient_Upload_BackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"Please upload a PDF file"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	_, err := client.Upload(context.Background(), "notes.pdf", strings.NewReader("x"))

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %T (%v)", err, err)
	}
	if be.Message != "Please upload a PDF file" {
		t.Errorf("message = %q, want verbatim server message", be.Message)
	}
	if be.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", be.StatusCode)
	}
}

func TestHTTPClient_Upload_SuccessFalse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"error":"disk full"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	_, err := client.Upload(context.Background(), "a.pdf", strings.NewReader("x"))
	if !IsBackend(err) || err.Error() != "disk full" {
		t.Fatalf("err = %v, want BackendError(disk full)", err)
	}
}

func TestHTTPClient_ServerErrorWithoutMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`<html>bad gateway</html>`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	_, err := client.GetStatus(context.Background())

	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected TransportError, got %T", err)
	}
	if te.StatusCode != http.StatusBadGateway {
		t.Errorf("status = %d, want 502", te.StatusCode)
	}
	if !strings.Contains(te.Body, "bad gateway") {
		t.Errorf("body = %q", te.Body)
	}
}

func TestHTTPClient_GetStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_status" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"stage":"embedding","progress":40,"message":"Creating embeddings for 12 chunks...","pages_count":3,"chunks_count":12}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	snap, err := client.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Stage != "embedding" || snap.Progress != 40 {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Terminal != pipeline.TerminalNone {
		t.Errorf("terminal = %s, want none", snap.Terminal)
	}
	if snap.Counts == nil || snap.Counts.Pages != 3 || snap.Counts.Chunks != 12 {
		t.Errorf("counts = %+v", snap.Counts)
	}

	got := pipeline.Reconcile(pipeline.Fresh(pipeline.KindIngestion), snap)
	want := []pipeline.Status{pipeline.StatusCompleted, pipeline.StatusCompleted, pipeline.StatusActive, pipeline.StatusPending}
	for i, s := range got.Stages {
		if s.Status != want[i] {
			t.Errorf("stage %s = %s, want %s", s.ID, s.Status, want[i])
		}
	}
	if got.Stages[2].Progress != 40 {
		t.Errorf("embedding progress = %d, want 40", got.Stages[2].Progress)
	}
}

func TestHTTPClient_GetStatus_Terminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stage":"ready","progress":100,"message":"RAG system ready!"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	snap, err := client.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Terminal != pipeline.TerminalReady {
		t.Errorf("terminal = %s, want ready", snap.Terminal)
	}
	if snap.Counts != nil {
		t.Errorf("counts = %+v, want nil", snap.Counts)
	}
}

func TestHTTPClient_GetStatus_EmptyBeforeUpload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	snap, err := client.GetStatus(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Stage != "" || snap.Terminal != pipeline.TerminalNone {
		t.Errorf("snapshot = %+v, want empty", snap)
	}
}

func TestHTTPClient_GetStatus_MalformedJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stage":`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	_, err := client.GetStatus(context.Background())
	if !IsTransport(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestHTTPClient_Ask(t *testing.T) {
	var gotQuestion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ask_question" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content-type = %q", ct)
		}
		var body askRequest
		json.NewDecoder(r.Body).Decode(&body)
		gotQuestion = body.Question

		json.NewEncoder(w).Encode(Answer{
			Success:  true,
			Question: body.Question,
			Answer:   "42",
			Stats:    &DocumentStats{PagesCount: 3, ChunksCount: 12, RetrievalCount: 3},
		})
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	ans, err := client.Ask(context.Background(), "What is the answer?")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotQuestion != "What is the answer?" {
		t.Errorf("question = %q", gotQuestion)
	}
	if ans.Answer != "42" || ans.Stats == nil || ans.Stats.RetrievalCount != 3 {
		t.Errorf("answer = %+v", ans)
	}
}

func TestHTTPClient_Ask_BackendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"Error processing question: rate limited"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	_, err := client.Ask(context.Background(), "hi")
	if !IsBackend(err) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if err.Error() != "Error processing question: rate limited" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestHTTPClient_ContextCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"stage":"loading"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, 5*time.Second, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetStatus(ctx)
	if !IsTransport(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want to wrap context.Canceled", err)
	}
}

func TestHTTPClient_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client := NewHTTPClient(url, time.Second, testLogger())
	_, err := client.GetStatus(context.Background())
	if !IsTransport(err) {
		t.Fatalf("err = %v, want TransportError", err)
	}
}

func TestHTTPClient_SetDeviceID(t *testing.T) {
	var got string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get(HeaderDeviceID)
		w.Write([]byte(`{"stage":"loading"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL+"/", 5*time.Second, testLogger())
	client.SetDeviceID("device-123")
	if _, err := client.GetStatus(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "device-123" {
		t.Fatalf("device id header = %q, want %q", got, "device-123")
	}
}

func TestHTTPClient_ImplementsClientInterface(t *testing.T) {
	var _ Client = (*HTTPClient)(nil)
}

func TestSimulator_ImplementsClientInterface(t *testing.T) {
	var _ Client = (*Simulator)(nil)
}
