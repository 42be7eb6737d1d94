package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"ide-sandbox/internal/alert"
	"ide-sandbox/internal/analyzer"
	"ide-sandbox/internal/api"
	"ide-sandbox/internal/runtime"
)

var (
	okColor   = color.New(color.FgGreen, color.Bold)
	warnColor = color.New(color.FgYellow, color.Bold)
	errColor  = color.New(color.FgRed, color.Bold)
	dimColor  = color.New(color.Faint)
)

// client talks to the sandbox HTTP API.
type client struct {
	base string
	http *http.Client
}

func newClient(base string, timeout time.Duration) *client {
	return &client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// apiError is a non-2xx reply decoded from the server's error body.
type apiError struct {
	Status int
	api.ErrorResponse
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%d %s)", e.ErrorResponse.Error, e.Status, e.Code)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		e := &apiError{Status: resp.StatusCode}
		_ = json.NewDecoder(resp.Body).Decode(&e.ErrorResponse)
		return e
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// getStatus decodes the body of a GET whatever its status code.
func (c *client) getStatus(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decoding response (%d): %w", resp.StatusCode, err)
	}
	return resp.StatusCode, nil
}

// streamAlerts reads the server-sent alert stream until ctx ends.
func (c *client) streamAlerts(ctx context.Context, fn func(alert.Alert)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/alerts/stream", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; only ctx bounds it.
	resp, err := (&http.Client{Transport: c.http.Transport}).Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &apiError{Status: resp.StatusCode}
	}

	sc := bufio.NewScanner(resp.Body)
	var data strings.Builder
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		case line == "" && data.Len() > 0:
			var a alert.Alert
			if err := json.Unmarshal([]byte(data.String()), &a); err == nil {
				fn(a)
			}
			data.Reset()
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	return sc.Err()
}

// detectLanguage maps a file name onto a language by its extension.
func detectLanguage(name string) (runtime.Language, error) {
	ext := strings.ToLower(filepath.Ext(name))
	reg := runtime.NewRegistry()
	for _, l := range reg.Languages() {
		rt, _ := reg.Get(l)
		if runtime.Extension(rt) == ext {
			return l, nil
		}
	}
	switch ext {
	case ".cc", ".cxx", ".hpp":
		return runtime.Cpp, nil
	case ".mjs", ".cjs":
		return runtime.JavaScript, nil
	}
	return "", fmt.Errorf("cannot detect language for extension %q, use --language", ext)
}

// readSource returns the named file, or stdin for "-" or no argument.
func readSource(args []string) (name, code string, err error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", fmt.Errorf("reading stdin: %w", err)
		}
		return "", string(data), nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return "", "", fmt.Errorf("reading file: %w", err)
	}
	return args[0], string(data), nil
}

func severityColor(sev string) *color.Color {
	switch sev {
	case "critical", "high", "error":
		return errColor
	case "medium", "warning":
		return warnColor
	default:
		return dimColor
	}
}

func printExecution(w io.Writer, r *api.ExecutionResponse) {
	if r.Stdout != "" {
		fmt.Fprint(w, r.Stdout)
		if !strings.HasSuffix(r.Stdout, "\n") {
			fmt.Fprintln(w)
		}
	}
	if r.Stderr != "" {
		errColor.Fprint(w, r.Stderr)
		if !strings.HasSuffix(r.Stderr, "\n") {
			fmt.Fprintln(w)
		}
	}

	status := okColor
	if r.Status != "completed" {
		status = errColor
	}
	dimColor.Fprintf(w, "-- %s ", r.ID)
	status.Fprintf(w, "%s", r.Status)
	dimColor.Fprintf(w, " exit=%d duration=%s\n", r.ExitCode, r.Duration.Duration)
}

func printSyntax(w io.Writer, r *analyzer.SyntaxReport) {
	if r.Valid {
		okColor.Fprint(w, "valid")
	} else {
		errColor.Fprint(w, "invalid")
	}
	dimColor.Fprintf(w, " (%d files, %d lines)\n", r.Metrics.FileCount, r.Metrics.LineCount)
	for _, f := range r.Findings {
		loc := f.File
		if f.Line > 0 {
			loc = fmt.Sprintf("%s:%d:%d", f.File, f.Line, f.Column)
		}
		severityColor(f.Severity).Fprintf(w, "%-8s", f.Severity)
		fmt.Fprintf(w, " %s %s\n", loc, f.Message)
	}
}

func printSecurity(w io.Writer, r *analyzer.SecurityReport) {
	if !r.Vulnerable {
		okColor.Fprintln(w, "no issues found")
	}
	for _, f := range r.Findings {
		severityColor(string(f.Severity)).Fprintf(w, "%-8s", f.Severity)
		fmt.Fprintf(w, " %s:%d %s [%s]\n", f.File, f.Line, f.Issue, f.Rule)
		dimColor.Fprintf(w, "         %s\n", f.Recommendation)
	}
}

func printAlert(w io.Writer, a alert.Alert) {
	dimColor.Fprintf(w, "%s ", a.Timestamp.Local().Format(time.TimeOnly))
	severityColor(string(a.Severity)).Fprintf(w, "%-8s", a.Severity)
	fmt.Fprintf(w, " %-8s %s", a.Type, a.Message)
	if a.ProjectID != "" {
		dimColor.Fprintf(w, " project=%s", a.ProjectID)
	}
	fmt.Fprintln(w)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
