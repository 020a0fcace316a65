// Command edgeflow runs workflow definitions and administers
// automations.
//
// Usage:
//
//	edgeflow run <workflow-file> [--state <json>] [--verbose] [--json-events]
//	edgeflow automations list [--tenant <tenant>]
//	edgeflow automations create --file <automation-json>
//	edgeflow automations enable <id>
//	edgeflow automations disable <id>
//	edgeflow automations trigger <id> [--payload <json>]
//	edgeflow workflows put <id> --file <workflow-json>
//	edgeflow workflows get <id> <version>
//	edgeflow workflows versions <id>
//	edgeflow serve [--addr <host:port>]
//
// run exit codes: 0 on success, 2 on parse error, 3 on engine failure,
// 4 when the workflow's terminal edge is "error".
//
// Automations persist to SQLite at $EDGEFLOW_DB (default
// "edgeflow.db"), or to MySQL when $EDGEFLOW_MYSQL_DSN is set. Engine
// behaviour honours ENGINE_LOOP_BOUND and ENGINE_RUN_TIMEOUT_MS;
// scheduler cadence honours SCHEDULER_TICK_INTERVAL_MS.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dshills/edgeflow-go/automation"
	"github.com/dshills/edgeflow-go/flow"
	"github.com/dshills/edgeflow-go/flow/emit"
	"github.com/dshills/edgeflow-go/flow/nodes"
)

const (
	exitOK           = 0
	exitUsage        = 1
	exitParseError   = 2
	exitEngineError  = 3
	exitErrorEdge    = 4
	exitStoreFailure = 5
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitUsage
	}

	switch args[0] {
	case "run":
		return cmdRun(args[1:])
	case "automations":
		return cmdAutomations(args[1:])
	case "workflows":
		return cmdWorkflows(args[1:])
	case "serve":
		return cmdServe(args[1:])
	case "help", "-h", "--help":
		usage()
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return exitUsage
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `edgeflow - workflow runner and automation scheduler

Commands:
  run <workflow-file> [--state <json>] [--verbose] [--json-events]
  automations list [--tenant <tenant>]
  automations create --file <automation-json>
  automations enable <id>
  automations disable <id>
  automations trigger <id> [--payload <json>]
  workflows put <id> --file <workflow-json>
  workflows get <id> <version>
  workflows versions <id>
  serve [--addr <host:port>]
`)
}

// newEngine builds the registry and engine from the environment.
func newEngine(verbose, jsonEvents bool) (*flow.Registry, *flow.Engine, error) {
	registry := flow.NewRegistry()
	if err := nodes.RegisterBuiltins(registry); err != nil {
		return nil, nil, err
	}

	opts, err := flow.OptionsFromEnv()
	if err != nil {
		return nil, nil, err
	}

	engineOpts := []flow.Option{flow.WithOptions(opts)}
	if verbose {
		engineOpts = append(engineOpts, flow.WithEmitter(emit.NewLogEmitter(os.Stderr, jsonEvents)))
	}

	engine, err := flow.New(registry, engineOpts...)
	if err != nil {
		return nil, nil, err
	}
	return registry, engine, nil
}

func cmdRun(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	stateJSON := fs.String("state", "", "initial state overrides as a JSON object")
	verbose := fs.Bool("verbose", false, "emit execution events to stderr")
	jsonEvents := fs.Bool("json-events", false, "emit events as JSONL instead of text")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "run requires exactly one workflow file")
		return exitUsage
	}

	definition, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "read workflow: %v\n", err)
		return exitUsage
	}

	var overrides map[string]any
	if *stateJSON != "" {
		if err := json.Unmarshal([]byte(*stateJSON), &overrides); err != nil {
			fmt.Fprintf(os.Stderr, "--state must be a JSON object: %v\n", err)
			return exitUsage
		}
	}

	registry, engine, err := newEngine(*verbose, *jsonEvents)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsage
	}

	wf, err := flow.NewParser(registry).Parse(definition)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
		return exitParseError
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := engine.Execute(ctx, wf, overrides)
	if err != nil {
		var failure *flow.EngineFailure
		if errors.As(err, &failure) {
			report, _ := json.MarshalIndent(failure, "", "  ")
			fmt.Fprintln(os.Stderr, string(report))
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return exitEngineError
	}

	out, err := json.MarshalIndent(result.State, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode final state: %v\n", err)
		return exitEngineError
	}
	fmt.Println(string(out))

	if result.Edge == "error" {
		return exitErrorEdge
	}
	return exitOK
}

// newScheduler wires the store, engine, and scheduler for the
// administrative commands.
func newScheduler() (*automation.Scheduler, automation.Store, error) {
	var (
		store automation.Store
		err   error
	)
	if dsn := os.Getenv("EDGEFLOW_MYSQL_DSN"); dsn != "" {
		store, err = automation.NewMySQLStore(dsn)
	} else {
		path := os.Getenv("EDGEFLOW_DB")
		if path == "" {
			path = "edgeflow.db"
		}
		store, err = automation.NewSQLiteStore(path)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open automation store: %w", err)
	}

	registry, engine, err := newEngine(false, false)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	runner := &automation.EngineRunner{Parser: flow.NewParser(registry), Engine: engine}

	scheduler, err := automation.NewScheduler(store, runner)
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return scheduler, store, nil
}

func cmdAutomations(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "automations requires a subcommand: list, create, enable, disable, trigger")
		return exitUsage
	}

	scheduler, store, err := newScheduler()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStoreFailure
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	switch args[0] {
	case "list":
		fs := flag.NewFlagSet("automations list", flag.ContinueOnError)
		tenant := fs.String("tenant", "", "restrict to one tenant")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		list, err := scheduler.List(ctx, *tenant)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitStoreFailure
		}
		out, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(out))
		return exitOK

	case "create":
		fs := flag.NewFlagSet("automations create", flag.ContinueOnError)
		file := fs.String("file", "", "automation record as JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		if *file == "" {
			fmt.Fprintln(os.Stderr, "create requires --file")
			return exitUsage
		}
		data, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitUsage
		}
		var a automation.Automation
		if err := json.Unmarshal(data, &a); err != nil {
			fmt.Fprintf(os.Stderr, "decode automation: %v\n", err)
			return exitUsage
		}
		if err := scheduler.Create(ctx, &a); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitStoreFailure
		}
		fmt.Println(a.ID)
		return exitOK

	case "enable", "disable":
		if len(args) != 2 {
			fmt.Fprintf(os.Stderr, "%s requires exactly one automation id\n", args[0])
			return exitUsage
		}
		op := scheduler.Enable
		if args[0] == "disable" {
			op = scheduler.Disable
		}
		if err := op(ctx, args[1]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitStoreFailure
		}
		return exitOK

	case "trigger":
		fs := flag.NewFlagSet("automations trigger", flag.ContinueOnError)
		payloadJSON := fs.String("payload", "", "trigger payload as a JSON object")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		if fs.NArg() != 1 {
			fmt.Fprintln(os.Stderr, "trigger requires exactly one automation id")
			return exitUsage
		}
		var payload map[string]any
		if *payloadJSON != "" {
			if err := json.Unmarshal([]byte(*payloadJSON), &payload); err != nil {
				fmt.Fprintf(os.Stderr, "--payload must be a JSON object: %v\n", err)
				return exitUsage
			}
		}
		exec, err := scheduler.ExecuteNow(ctx, fs.Arg(0), payload)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitStoreFailure
		}
		out, _ := json.MarshalIndent(exec, "", "  ")
		fmt.Println(string(out))
		if exec.Status == automation.ExecutionFailed {
			return exitEngineError
		}
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "unknown automations subcommand %q\n", args[0])
		return exitUsage
	}
}

func cmdWorkflows(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "workflows requires a subcommand: put, get, versions")
		return exitUsage
	}

	_, store, err := newScheduler()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStoreFailure
	}
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	switch args[0] {
	case "put":
		fs := flag.NewFlagSet("workflows put", flag.ContinueOnError)
		file := fs.String("file", "", "workflow definition as JSON")
		if err := fs.Parse(args[1:]); err != nil {
			return exitUsage
		}
		if fs.NArg() != 1 || *file == "" {
			fmt.Fprintln(os.Stderr, "put requires a workflow id and --file")
			return exitUsage
		}
		definition, err := os.ReadFile(*file)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitUsage
		}

		// Reject definitions the engine could not run.
		registry, _, err := newEngine(false, false)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitUsage
		}
		if _, err := flow.NewParser(registry).Parse(definition); err != nil {
			fmt.Fprintf(os.Stderr, "parse error: %v\n", err)
			return exitParseError
		}

		versions, err := store.ListWorkflowVersions(ctx, fs.Arg(0))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitStoreFailure
		}
		next := 1
		if len(versions) > 0 {
			next = versions[len(versions)-1].Version + 1
		}
		w := &automation.WorkflowDef{
			ID:         fs.Arg(0),
			Version:    next,
			Definition: definition,
			CreatedAt:  time.Now().UTC(),
		}
		if err := store.PutWorkflow(ctx, w); err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitStoreFailure
		}
		fmt.Printf("%s version %d\n", w.ID, w.Version)
		return exitOK

	case "get":
		if len(args) != 3 {
			fmt.Fprintln(os.Stderr, "get requires a workflow id and a version")
			return exitUsage
		}
		version, err := strconv.Atoi(args[2])
		if err != nil {
			fmt.Fprintf(os.Stderr, "version must be an integer: %v\n", err)
			return exitUsage
		}
		w, err := store.GetWorkflow(ctx, args[1], version)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitStoreFailure
		}
		fmt.Println(string(w.Definition))
		return exitOK

	case "versions":
		if len(args) != 2 {
			fmt.Fprintln(os.Stderr, "versions requires exactly one workflow id")
			return exitUsage
		}
		versions, err := store.ListWorkflowVersions(ctx, args[1])
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitStoreFailure
		}
		for _, w := range versions {
			fmt.Printf("%d\t%s\n", w.Version, w.CreatedAt.Format(time.RFC3339))
		}
		return exitOK

	default:
		fmt.Fprintf(os.Stderr, "unknown workflows subcommand %q\n", args[0])
		return exitUsage
	}
}

func cmdServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	addr := fs.String("addr", ":8080", "webhook listen address")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	scheduler, store, err := newScheduler()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitStoreFailure
	}
	defer func() { _ = store.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mux := http.NewServeMux()
	mux.Handle("POST /hooks/{id}", automation.NewWebhookHandler(scheduler))

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = server.Shutdown(context.Background())
	}()
	go func() {
		_ = scheduler.Run(ctx)
	}()

	fmt.Fprintf(os.Stderr, "serving webhooks on %s\n", *addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintln(os.Stderr, err)
		return exitStoreFailure
	}
	return exitOK
}
