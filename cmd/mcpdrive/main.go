// Entry point for the mcpdrive CLI.
//
// Exit codes:
//
//	0 = success
//	1 = runtime failure (spawn, handshake, call, suite failures)
//	2 = usage error (bad flags, bad input files)
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mkarppi/mcpdrive/cli"
	"github.com/mkarppi/mcpdrive/client"
	"github.com/mkarppi/mcpdrive/config"
	"github.com/mkarppi/mcpdrive/logger"
	"github.com/mkarppi/mcpdrive/mcp"
	"github.com/mkarppi/mcpdrive/process"
	"github.com/mkarppi/mcpdrive/suite"
)

// version is set at build time via -ldflags.
var version = "0.1.0"

const usageText = `mcpdrive - drive MCP servers over stdio

Usage:
  mcpdrive tools [flags] [-- command args...]   List a server's tools
  mcpdrive call -tool NAME [flags] [-- command args...]
                                                Invoke one tool
  mcpdrive run SUITE.yaml [flags]               Run a YAML call suite
  mcpdrive check [flags]                        Preflight registry commands
  mcpdrive orphans [-kill]                      List or kill leftover servers
  mcpdrive clean                                Remove logs and dead orphan entries
  mcpdrive version                              Print the version

A server is selected with -server NAME (a registry lookup) or an inline
command after --. The registry is a servers.json file under the config
directory; -config overrides its location.

Flags common to tools, call and run:
  -config PATH   server registry file (env MCPDRIVE_SERVERS)
  -server NAME   registry entry to drive
  -debug         debug logging plus server stderr passthrough (env MCPDRIVE_DEBUG)
  -log PATH      log destination, "-" for stderr (env MCPDRIVE_LOG)

MCPDRIVE_CALL_TIMEOUT, MCPDRIVE_TERMINATE_TIMEOUT and MCPDRIVE_STARTUP_DELAY
tune session timeouts.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run dispatches the subcommand. Separated from main for testability.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "help", "--help", "-h":
		fmt.Fprint(stdout, usageText)
		return 0
	case "version", "--version":
		fmt.Fprintf(stdout, "mcpdrive %s\n", version)
		return 0
	case "tools":
		return runTools(rest, stdout, stderr)
	case "call":
		return runCall(rest, stdout, stderr)
	case "run":
		return runSuite(rest, stdout, stderr)
	case "check":
		return runCheck(rest, stdout, stderr)
	case "orphans":
		return runOrphans(rest, stdout, stderr)
	case "clean":
		return runClean(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n\n", cmd)
		fmt.Fprint(stderr, usageText)
		return 2
	}
}

// opts carries the flags shared by the session-driving subcommands,
// seeded from MCPDRIVE_* environment variables so flags override env.
type opts struct {
	settings config.Settings
	server   string
	stderr   io.Writer
}

// newOpts reads the environment and binds the shared flags onto fs.
func newOpts(fs *flag.FlagSet, stderr io.Writer) (*opts, error) {
	settings, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	o := &opts{settings: settings, stderr: stderr}
	fs.SetOutput(stderr)
	fs.StringVar(&o.settings.RegistryPath, "config", o.settings.RegistryPath, "server registry file")
	fs.StringVar(&o.settings.LogPath, "log", o.settings.LogPath, `log destination, "-" for stderr`)
	fs.BoolVar(&o.settings.Debug, "debug", o.settings.Debug, "debug logging and server stderr passthrough")
	fs.StringVar(&o.server, "server", "", "registry entry to drive")
	return o, nil
}

func (o *opts) setupLogger() error {
	path := o.settings.LogPath
	if path == "" {
		p, err := logger.DefaultLogPath()
		if err != nil {
			return err
		}
		path = p
	}
	if err := logger.Init(path); err != nil {
		return err
	}
	logger.SetDebug(o.settings.Debug)
	return nil
}

// serverConfig builds the session config from -server or the inline
// command after --, and preflights the command so a typo fails before a
// spawn attempt.
func (o *opts) serverConfig(inline []string) (client.Config, error) {
	var cfg client.Config

	switch {
	case o.server != "" && len(inline) > 0:
		return cfg, errors.New("-server and an inline command are mutually exclusive")
	case o.server != "":
		reg, err := config.LoadRegistry(o.settings.RegistryPath)
		if err != nil {
			return cfg, err
		}
		entry, ok := reg.Lookup(o.server)
		if !ok {
			return cfg, fmt.Errorf("server %q not found in registry %s", o.server, reg.Path())
		}
		cfg = o.clientConfig(o.server, entry)
	case len(inline) > 0:
		cfg = o.clientConfig(filepath.Base(inline[0]), config.ServerEntry{
			Command: inline[0],
			Args:    inline[1:],
		})
	default:
		return cfg, errors.New("no server selected: use -server NAME or append -- command args")
	}

	if _, err := cli.ResolveCommand(cfg.Command, cfg.Dir); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// clientConfig turns a registry entry into a session config with the
// environment timeouts, orphan tracking, and stderr forwarding applied.
func (o *opts) clientConfig(name string, entry config.ServerEntry) client.Config {
	cfg := client.Config{
		Name:             name,
		Command:          entry.Command,
		Args:             entry.Args,
		Dir:              entry.Cwd,
		Env:              entry.Environ(),
		CallTimeout:      o.settings.CallTimeout,
		TerminateTimeout: o.settings.TerminateTimeout,
		StartupDelay:     o.settings.StartupDelay,
	}

	if tracker, err := process.DefaultTracker(); err == nil {
		cfg.Tracker = tracker
	} else {
		logger.Get().Warn("process tracker unavailable", "error", err)
	}
	if o.settings.Debug {
		cfg.StderrSink = &prefixWriter{w: o.stderr, prefix: "SERVER: "}
	}
	return cfg
}

// closeSession closes sess; a server that outlives the grace period is
// reported and left to the orphan tracker.
func closeSession(sess *client.Session, stderr io.Writer) {
	if err := sess.Close(); err != nil {
		fmt.Fprintf(stderr, "warning: %v (try: mcpdrive orphans -kill)\n", err)
	}
}

// prefixWriter tags each forwarded server stderr line so it cannot be
// mistaken for mcpdrive's own output.
type prefixWriter struct {
	w      io.Writer
	prefix string
}

func (p *prefixWriter) Write(b []byte) (int, error) {
	if _, err := io.WriteString(p.w, p.prefix); err != nil {
		return 0, err
	}
	return p.w.Write(b)
}

func runTools(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("tools", flag.ContinueOnError)
	o, err := newOpts(fs, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	format := fs.String("format", "text", "output format: text or json")
	all := fs.Bool("all", false, "list tools from every registry server")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if err := o.setupLogger(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	ctx := context.Background()

	if *all {
		return listAllTools(ctx, o, *format, stdout, stderr)
	}

	cfg, err := o.serverConfig(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	sess := client.New(cfg)
	if err := sess.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer closeSession(sess, stderr)

	tools, err := sess.Tools(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if err := printTools(stdout, tools, *format); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

// listAllTools drives every registry server in turn through a session
// manager. Failures are reported per server and do not stop the rest.
func listAllTools(ctx context.Context, o *opts, format string, stdout, stderr io.Writer) int {
	reg, err := config.LoadRegistry(o.settings.RegistryPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	names := reg.Names()
	if len(names) == 0 {
		fmt.Fprintf(stderr, "registry %s is empty\n", reg.Path())
		return 1
	}

	manager := client.NewManager()
	defer func() {
		if err := manager.CloseAll(); err != nil {
			fmt.Fprintf(stderr, "warning: %v\n", err)
		}
	}()

	failures := 0
	for _, name := range names {
		entry, _ := reg.Lookup(name)
		fmt.Fprintf(stdout, "== %s ==\n", name)

		sess, err := manager.Start(ctx, o.clientConfig(name, entry))
		if err != nil {
			fmt.Fprintf(stderr, "error: %s: %v\n", name, err)
			failures++
			continue
		}
		tools, err := sess.Tools(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "error: %s: %v\n", name, err)
			failures++
			continue
		}
		if err := printTools(stdout, tools, format); err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
	}
	if failures > 0 {
		return 1
	}
	return 0
}

func printTools(w io.Writer, tools []mcp.ToolDefinition, format string) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(tools, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(w, string(data))
		return nil
	case "text":
		if len(tools) == 0 {
			fmt.Fprintln(w, "no tools")
			return nil
		}
		for _, tool := range tools {
			fmt.Fprintln(w, tool.Name)
			if tool.Description != "" {
				fmt.Fprintf(w, "  %s\n", tool.Description)
			}
			if summary := schemaSummary(tool); summary != "" {
				fmt.Fprintf(w, "  args: %s\n", summary)
			}
		}
		return nil
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

// schemaSummary renders an input schema as "text (string, required),
// count (number)". Unparseable or empty schemas yield "".
func schemaSummary(tool mcp.ToolDefinition) string {
	schema := tool.Schema()
	if len(schema.Properties) == 0 {
		return ""
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		kind := schema.Properties[name].Type
		if kind == "" {
			kind = "any"
		}
		if required[name] {
			kind += ", required"
		}
		parts = append(parts, fmt.Sprintf("%s (%s)", name, kind))
	}
	return strings.Join(parts, ", ")
}

func runCall(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	o, err := newOpts(fs, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	tool := fs.String("tool", "", "tool to invoke (required)")
	argsJSON := fs.String("args", "", "tool arguments as a JSON object")
	format := fs.String("format", "text", "output format: text or json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *tool == "" {
		fmt.Fprintln(stderr, "error: -tool is required")
		return 2
	}

	var callArgs map[string]any
	if *argsJSON != "" {
		if err := json.Unmarshal([]byte(*argsJSON), &callArgs); err != nil {
			fmt.Fprintf(stderr, "error: parse -args: %v\n", err)
			return 2
		}
	}

	if err := o.setupLogger(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	cfg, err := o.serverConfig(fs.Args())
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	sess := client.New(cfg)
	if err := sess.Start(ctx); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer closeSession(sess, stderr)

	out, err := sess.Call(ctx, *tool, callArgs)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if out.Failed() {
		fmt.Fprintf(stderr, "remote error %d: %s\n", out.Err.Code, out.Err.Message)
		return 1
	}

	result, err := out.ToolResult()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *format == "json" {
		fmt.Fprintln(stdout, string(out.Result))
	} else if text := result.Text(); text != "" {
		fmt.Fprintln(stdout, text)
	}

	if result.IsError {
		fmt.Fprintln(stderr, "tool reported an error")
		return 1
	}
	return 0
}

func runSuite(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	o, err := newOpts(fs, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "error: run takes exactly one suite file")
		return 2
	}

	doc, err := suite.Load(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	if errs := suite.Validate(doc); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(stderr, "error: suite: %v\n", e)
		}
		return 2
	}

	if err := o.setupLogger(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	open, err := o.sessionFunc(doc)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}

	report := suite.NewRunner(doc, open, suite.WithProgress(stdout)).Run(context.Background())
	fmt.Fprintln(stdout, report.Summary())

	if !report.AllPassed() {
		return 1
	}
	return 0
}

// sessionFunc resolves the suite's server once and returns the factory
// the runner opens sessions through.
func (o *opts) sessionFunc(doc *suite.Document) (suite.SessionFunc, error) {
	var cfg client.Config

	if doc.Server.Name != "" {
		reg, err := config.LoadRegistry(o.settings.RegistryPath)
		if err != nil {
			return nil, err
		}
		entry, ok := reg.Lookup(doc.Server.Name)
		if !ok {
			return nil, fmt.Errorf("server %q not found in registry %s", doc.Server.Name, reg.Path())
		}
		cfg = o.clientConfig(doc.Server.Name, entry)
	} else {
		cfg = o.clientConfig(filepath.Base(doc.Server.Command), config.ServerEntry{
			Command: doc.Server.Command,
			Args:    doc.Server.Args,
			Cwd:     doc.Server.Cwd,
		})
	}

	// The suite's own timeout wins over the environment's per-call bound.
	if doc.Timeout != nil && doc.Timeout.Duration > 0 {
		cfg.CallTimeout = doc.Timeout.Duration
	}

	if _, err := cli.ResolveCommand(cfg.Command, cfg.Dir); err != nil {
		return nil, err
	}

	return func(ctx context.Context) (suite.Session, error) {
		sess := client.New(cfg)
		if err := sess.Start(ctx); err != nil {
			return nil, err
		}
		return sess, nil
	}, nil
}

func runCheck(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	o, err := newOpts(fs, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 2
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	reg, err := config.LoadRegistry(o.settings.RegistryPath)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	names := reg.Names()
	if len(names) == 0 {
		fmt.Fprintf(stdout, "registry %s is empty\n", reg.Path())
		return 0
	}

	allFound := true
	results := make([]cli.CheckResult, 0, len(names))
	for _, name := range names {
		entry, _ := reg.Lookup(name)
		result := cli.Check(name, entry.Command, entry.Cwd)
		if !result.Found {
			allFound = false
		}
		results = append(results, result)
	}

	fmt.Fprint(stdout, cli.FormatCheckResults(results))
	if !allFound {
		return 1
	}
	return 0
}

func runOrphans(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("orphans", flag.ContinueOnError)
	fs.SetOutput(stderr)
	kill := fs.Bool("kill", false, "kill the orphaned processes")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	tracker, err := process.DefaultTracker()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	if *kill {
		killed, err := tracker.CleanupOrphans()
		if err != nil {
			fmt.Fprintf(stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "killed %d orphaned server(s)\n", killed)
		return 0
	}

	orphans, err := tracker.Orphans()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if len(orphans) == 0 {
		fmt.Fprintln(stdout, "no orphaned servers")
		return 0
	}

	for _, e := range orphans {
		fmt.Fprintf(stdout, "%d\t%s\t(session %s, started %s)\n",
			e.PID, e.Command, e.SessionID, e.StartedAt.Format("2006-01-02 15:04:05"))
	}
	return 0
}

func runClean(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Dead pids first so the registry only keeps entries worth keeping.
	tracker, err := process.DefaultTracker()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	if _, err := tracker.Orphans(); err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}

	removed, err := logger.ClearLogs()
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "removed %d log file(s)\n", removed)
	return 0
}
