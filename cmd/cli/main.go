package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"ide-sandbox/internal/alert"
	"ide-sandbox/internal/analyzer"
	"ide-sandbox/internal/api"
	"ide-sandbox/internal/runtime"
)

var (
	serverURL string
	timeout   time.Duration
	language  string
	projectID string
	asJSON    bool
	noColor   bool
)

func main() {
	root := &cobra.Command{
		Use:           "ide-sandbox",
		Short:         "CLI client for the ide-sandbox execution service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&serverURL, "server", envOr("IDE_SANDBOX_SERVER", "http://localhost:8080"), "Server URL")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "Request timeout")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "Print raw JSON responses")
	root.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	for _, c := range []*cobra.Command{
		{
			Use:   "run [file]",
			Short: "Execute a source file (or stdin) in a sandbox",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runExecute,
		},
		{
			Use:   "syntax [file]",
			Short: "Check a source file for syntax errors",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runSyntax,
		},
		{
			Use:   "scan [file]",
			Short: "Scan a source file for insecure patterns",
			Args:  cobra.MaximumNArgs(1),
			RunE:  runScan,
		},
	} {
		c.Flags().StringVarP(&language, "language", "l", "", "Language (detected from the file extension when omitted)")
		c.Flags().StringVar(&projectID, "project", "", "Project ID attached to alerts and audit records")
		root.AddCommand(c)
	}

	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Show recent alerts",
		Args:  cobra.NoArgs,
		RunE:  runAlerts,
	}
	alertsCmd.Flags().BoolP("follow", "f", false, "Stream new alerts as they are emitted")
	root.AddCommand(alertsCmd)

	root.AddCommand(
		&cobra.Command{
			Use:   "languages",
			Short: "List supported languages",
			Args:  cobra.NoArgs,
			RunE:  runLanguages,
		},
		&cobra.Command{
			Use:   "template <language>",
			Short: "Print the starter program for a language",
			Args:  cobra.ExactArgs(1),
			RunE:  runTemplate,
		},
		&cobra.Command{
			Use:   "list",
			Short: "List recent executions",
			Args:  cobra.NoArgs,
			RunE:  runList,
		},
		&cobra.Command{
			Use:   "health",
			Short: "Check server health",
			Args:  cobra.NoArgs,
			RunE:  runHealth,
		},
	)

	if err := root.Execute(); err != nil {
		errColor.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// projectRequest builds the request body from the file argument and flags.
func projectRequest(args []string) (*api.ProjectRequest, error) {
	name, code, err := readSource(args)
	if err != nil {
		return nil, err
	}
	lang := language
	if lang == "" {
		if name == "" {
			return nil, errors.New("--language is required when reading stdin")
		}
		l, err := detectLanguage(name)
		if err != nil {
			return nil, err
		}
		lang = string(l)
	}
	return &api.ProjectRequest{ProjectID: projectID, Language: lang, Code: code}, nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	req, err := projectRequest(args)
	if err != nil {
		return err
	}

	var resp api.ExecutionResponse
	if err := newClient(serverURL, timeout).do(cmd.Context(), http.MethodPost, "/execute", req, &resp); err != nil {
		return err
	}
	if asJSON {
		if err := printJSON(os.Stdout, resp); err != nil {
			return err
		}
	} else {
		printExecution(os.Stdout, &resp)
	}

	// Exit with the sandbox exit code
	if resp.ExitCode != 0 {
		os.Exit(resp.ExitCode & 0xff)
	}
	return nil
}

func runSyntax(cmd *cobra.Command, args []string) error {
	req, err := projectRequest(args)
	if err != nil {
		return err
	}

	var report analyzer.SyntaxReport
	if err := newClient(serverURL, timeout).do(cmd.Context(), http.MethodPost, "/syntax", req, &report); err != nil {
		return err
	}
	if asJSON {
		return printJSON(os.Stdout, report)
	}
	printSyntax(os.Stdout, &report)
	if !report.Valid {
		os.Exit(1)
	}
	return nil
}

func runScan(cmd *cobra.Command, args []string) error {
	req, err := projectRequest(args)
	if err != nil {
		return err
	}

	var report analyzer.SecurityReport
	if err := newClient(serverURL, timeout).do(cmd.Context(), http.MethodPost, "/security", req, &report); err != nil {
		return err
	}
	if asJSON {
		return printJSON(os.Stdout, report)
	}
	printSecurity(os.Stdout, &report)
	return nil
}

func runAlerts(cmd *cobra.Command, _ []string) error {
	c := newClient(serverURL, timeout)

	var recent []alert.Alert
	if err := c.do(cmd.Context(), http.MethodGet, "/alerts", nil, &recent); err != nil {
		return err
	}
	show := func(a alert.Alert) {
		if asJSON {
			_ = printJSON(os.Stdout, a)
			return
		}
		printAlert(os.Stdout, a)
	}
	for _, a := range recent {
		show(a)
	}

	if follow, _ := cmd.Flags().GetBool("follow"); !follow {
		return nil
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	return c.streamAlerts(ctx, show)
}

func runLanguages(cmd *cobra.Command, _ []string) error {
	var langs []api.LanguageInfo
	if err := newClient(serverURL, timeout).do(cmd.Context(), http.MethodGet, "/languages", nil, &langs); err != nil {
		return err
	}
	if asJSON {
		return printJSON(os.Stdout, langs)
	}
	for _, l := range langs {
		okColor.Fprintf(os.Stdout, "%-12s", l.Language)
		fmt.Fprintf(os.Stdout, " %-10s %-28s", l.EntryFile, l.Image)
		dimColor.Fprintf(os.Stdout, " timeout=%s memory=%dMB syntax=%t\n", l.Timeout.Duration, l.MemoryMB, l.SyntaxCheck)
	}
	return nil
}

func runTemplate(cmd *cobra.Command, args []string) error {
	lang, err := runtime.ParseLanguage(args[0])
	if err != nil {
		return err
	}
	var tmpl api.TemplateResponse
	if err := newClient(serverURL, timeout).do(cmd.Context(), http.MethodGet, "/languages/"+string(lang)+"/template", nil, &tmpl); err != nil {
		return err
	}
	if asJSON {
		return printJSON(os.Stdout, tmpl)
	}
	fmt.Fprint(os.Stdout, tmpl.Code)
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	var execs []api.ExecutionResponse
	if err := newClient(serverURL, timeout).do(cmd.Context(), http.MethodGet, "/executions", nil, &execs); err != nil {
		return err
	}
	if asJSON {
		return printJSON(os.Stdout, execs)
	}
	for _, e := range execs {
		status := okColor
		if e.Status != "completed" {
			status = severityColor("error")
		}
		dimColor.Fprintf(os.Stdout, "%s ", e.CreatedAt.Local().Format(time.DateTime))
		fmt.Fprintf(os.Stdout, "%-36s %-11s ", e.ID, e.Language)
		status.Fprintf(os.Stdout, "%-9s", e.Status)
		dimColor.Fprintf(os.Stdout, " exit=%d %s\n", e.ExitCode, e.Duration.Duration)
	}
	return nil
}

func runHealth(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	// A degraded server answers 503 with the same body.
	var h api.HealthResponse
	code, err := newClient(serverURL, timeout).getStatus(ctx, "/health", &h)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if asJSON {
		return printJSON(os.Stdout, h)
	}

	status := okColor
	if h.Status != "ok" {
		status = warnColor
	}
	status.Fprintln(os.Stdout, h.Status)
	fmt.Fprintf(os.Stdout, "backend:   %s (reachable=%t)\n", h.Backend, h.Sandbox)
	fmt.Fprintf(os.Stdout, "database:  %t\n", h.Database)
	fmt.Fprintf(os.Stdout, "sandboxes: %d active\n", h.ActiveSandboxes)
	fmt.Fprintf(os.Stdout, "debugging: %d sessions\n", h.DebugSessions)
	fmt.Fprintf(os.Stdout, "uptime:    %s\n", h.Uptime)
	if code != http.StatusOK {
		os.Exit(2)
	}
	return nil
}
