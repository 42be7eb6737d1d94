package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"

	"ide-sandbox/internal/alert"
	"ide-sandbox/internal/api"
	"ide-sandbox/internal/runtime"
)

func init() {
	color.NoColor = true
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name    string
		want    runtime.Language
		wantErr bool
	}{
		{"main.py", runtime.Python, false},
		{"app.JS", runtime.JavaScript, false},
		{"index.ts", runtime.TypeScript, false},
		{"Main.java", runtime.Java, false},
		{"main.cpp", runtime.Cpp, false},
		{"solver.cc", runtime.Cpp, false},
		{"main.go", runtime.Go, false},
		{"script.rb", "", true},
		{"Makefile", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := detectLanguage(tt.name)
			if (err != nil) != tt.wantErr {
				t.Fatalf("detectLanguage(%q) error = %v, wantErr %v", tt.name, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("detectLanguage(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestClient_Do(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/execute":
			if r.Header.Get("Content-Type") != "application/json" {
				w.WriteHeader(http.StatusUnsupportedMediaType)
				return
			}
			fmt.Fprint(w, `{"id":"e1","status":"completed","stdout":"hi\n","exit_code":0,"duration":"1.5s"}`)
		default:
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"unsupported language: \"cobol\"","code":"UNSUPPORTED_LANGUAGE"}`)
		}
	}))
	defer srv.Close()

	c := newClient(srv.URL+"/", 5*time.Second)

	var resp api.ExecutionResponse
	err := c.do(context.Background(), http.MethodPost, "/execute", &api.ProjectRequest{Language: "python", Code: "print('hi')"}, &resp)
	if err != nil {
		t.Fatalf("do() error = %v", err)
	}
	if resp.ID != "e1" || resp.Stdout != "hi\n" || resp.Duration.Duration != 1500*time.Millisecond {
		t.Errorf("resp = %+v", resp)
	}

	err = c.do(context.Background(), http.MethodPost, "/syntax", &api.ProjectRequest{Language: "cobol"}, nil)
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("do() error = %v, want *apiError", err)
	}
	if apiErr.Status != http.StatusBadRequest || apiErr.Code != "UNSUPPORTED_LANGUAGE" {
		t.Errorf("apiError = %+v", apiErr)
	}
	if !strings.Contains(err.Error(), "cobol") {
		t.Errorf("Error() = %q, want server message", err.Error())
	}
}

func TestClient_GetStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"degraded","database":true}`)
	}))
	defer srv.Close()

	var h api.HealthResponse
	code, err := newClient(srv.URL, time.Second).getStatus(context.Background(), "/health", &h)
	if err != nil {
		t.Fatal(err)
	}
	if code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", code)
	}
	if h.Status != "degraded" || !h.Database {
		t.Errorf("health = %+v", h)
	}
}

func TestClient_StreamAlerts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: alert\ndata: {\"id\":\"a1\",\"type\":\"security\",\"severity\":\"critical\",\"message\":\"eval\"}\n\n")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event: alert\ndata: {\"id\":\"a2\",\"type\":\"syntax\",\"severity\":\"info\",\"message\":\"ok\"}\n\n")
	}))
	defer srv.Close()

	var got []alert.Alert
	err := newClient(srv.URL, time.Second).streamAlerts(context.Background(), func(a alert.Alert) {
		got = append(got, a)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d alerts, want 2", len(got))
	}
	if got[0].ID != "a1" || got[0].Severity != alert.SeverityCritical {
		t.Errorf("first alert = %+v", got[0])
	}
	if got[1].Type != alert.TypeSyntax {
		t.Errorf("second alert type = %q, want syntax", got[1].Type)
	}
}

func TestPrintExecution(t *testing.T) {
	var buf bytes.Buffer
	printExecution(&buf, &api.ExecutionResponse{
		ID:       "e1",
		Status:   "failed",
		Stdout:   "partial",
		Stderr:   "boom\n",
		ExitCode: 3,
		Duration: api.Duration{Duration: 2 * time.Second},
	})

	want := "partial\nboom\n-- e1 failed exit=3 duration=2s\n"
	if buf.String() != want {
		t.Errorf("output = %q, want %q", buf.String(), want)
	}
}
