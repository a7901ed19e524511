// cmd/gantry-runner/main.go
//
// Headless companion to the gantry dashboard. It validates workflow
// documents, triggers runs from synthetic events, serves the HTTP event
// bridge, and watches the working tree for local edits.

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kingrea/gantry/internal/action"
	"github.com/kingrea/gantry/internal/actions"
	"github.com/kingrea/gantry/internal/artifact"
	"github.com/kingrea/gantry/internal/config"
	"github.com/kingrea/gantry/internal/eventbridge"
	"github.com/kingrea/gantry/internal/lint"
	"github.com/kingrea/gantry/internal/logging"
	"github.com/kingrea/gantry/internal/run"
	"github.com/kingrea/gantry/internal/secrets"
	"github.com/kingrea/gantry/internal/watch"
	"github.com/kingrea/gantry/internal/workflow"
	"github.com/kingrea/gantry/plugins"
)

const usage = `Usage: gantry-runner <command> [flags]

Commands:
  validate   check workflow documents against the runner catalog and actions
  trigger    evaluate a synthetic event against every workflow and run matches
  run        execute one workflow by name, skipping trigger evaluation
  serve      start the HTTP event bridge and run deliveries as they arrive
  watch      watch the working tree and trigger runs on settled edits
  secrets    list the secret names configured for this project
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	switch os.Args[1] {
	case "validate":
		cmdValidate(os.Args[2:])
	case "trigger":
		cmdTrigger(os.Args[2:])
	case "run":
		cmdRun(os.Args[2:])
	case "serve":
		cmdServe(os.Args[2:])
	case "watch":
		cmdWatch(os.Args[2:])
	case "secrets":
		cmdSecrets(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
}

func cmdValidate(args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	projectDir := fs.String("project", "", "path to the project directory (defaults to cwd)")
	_ = fs.Parse(args)

	cfg := loadProject(*projectDir)
	registry := buildRegistry(cfg)
	linter := lint.New(cfg, registry)

	var reports []*lint.Report
	if fs.NArg() > 0 {
		for _, path := range fs.Args() {
			report, err := linter.CheckFile(path)
			if err != nil {
				die("check %s: %v", path, err)
			}
			reports = append(reports, report)
		}
	} else {
		var err error
		reports, err = linter.CheckDir(cfg.WorkflowsDir())
		if err != nil {
			die("check workflows: %v", err)
		}
	}
	if len(reports) == 0 {
		fmt.Println("No workflow documents found.")
		return
	}
	failed := false
	for _, report := range reports {
		if report.IsValid() {
			fmt.Printf("OK: %s (%s)\n", report.Path, report.Workflow)
			continue
		}
		failed = true
		fmt.Printf("Invalid: %s (%s)\n", report.Path, report.Workflow)
		for _, validationErr := range report.Errors {
			fmt.Printf("- %v\n", validationErr)
		}
	}
	if failed {
		os.Exit(1)
	}
}

func cmdTrigger(args []string) {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	projectDir := fs.String("project", "", "path to the project directory (defaults to cwd)")
	ev := bindEventFlags(fs)
	_ = fs.Parse(args)

	cfg := loadProject(*projectDir)
	engine := buildEngine(cfg)
	event := ev.build(cfg.BaseBranch())

	defs, err := workflow.LoadDefinitionDir(cfg.WorkflowsDir())
	if err != nil {
		die("load workflows: %v", err)
	}
	if len(defs) == 0 {
		die("no workflow documents under %s", cfg.WorkflowsDir())
	}
	failed := false
	for _, def := range defs {
		decision := workflow.Evaluate(def, event.WorkflowEvent())
		if !decision.Matched {
			fmt.Printf("Skipped %s: %s\n", def.Name, decision.Reason)
			continue
		}
		fmt.Printf("Running %s...\n", def.Name)
		state, err := engine.Run(context.Background(), def, event.RunRecord())
		if err != nil {
			die("run %s: %v", def.Name, err)
		}
		printState(state)
		if state.Status != run.StatusSucceeded {
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func cmdRun(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	projectDir := fs.String("project", "", "path to the project directory (defaults to cwd)")
	name := fs.String("workflow", "", "workflow name to execute")
	ev := bindEventFlags(fs)
	_ = fs.Parse(args)

	if strings.TrimSpace(*name) == "" {
		die("--workflow is required")
	}
	cfg := loadProject(*projectDir)
	engine := buildEngine(cfg)
	event := ev.build(cfg.BaseBranch())

	defs, err := workflow.LoadDefinitionDir(cfg.WorkflowsDir())
	if err != nil {
		die("load workflows: %v", err)
	}
	target := strings.ToLower(strings.TrimSpace(*name))
	for _, def := range defs {
		if strings.ToLower(strings.TrimSpace(def.Name)) != target {
			continue
		}
		state, err := engine.Run(context.Background(), def, event.RunRecord())
		if err != nil {
			die("run %s: %v", def.Name, err)
		}
		printState(state)
		if state.Status != run.StatusSucceeded {
			os.Exit(1)
		}
		return
	}
	die("workflow %q not found under %s", *name, cfg.WorkflowsDir())
}

func cmdServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	projectDir := fs.String("project", "", "path to the project directory (defaults to cwd)")
	_ = fs.Parse(args)

	cfg := loadProject(*projectDir)
	settings := eventbridge.SettingsFromConfig(cfg)
	if !settings.Enabled {
		die("event bridge is disabled; enable it in %s", cfg.ProjectConfigPath())
	}
	dispatcher := buildDispatcher(cfg)
	server := eventbridge.NewServer(settings,
		eventbridge.WithProcessor(dispatcher),
		eventbridge.WithLogger(newRunnerLogger(cfg)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := server.Start(ctx); err != nil {
		die("start bridge: %v", err)
	}
	fmt.Printf("Event bridge listening on %s\n", server.BaseURL())

	waitForSignal()
	fmt.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
	dispatcher.Wait()
}

func cmdWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	projectDir := fs.String("project", "", "path to the project directory (defaults to cwd)")
	debounce := fs.Duration("debounce", watch.DefaultDebounce, "settle time before edits become a run")
	_ = fs.Parse(args)

	cfg := loadProject(*projectDir)
	dispatcher := buildDispatcher(cfg)
	watcher, err := watch.New(cfg, dispatcher,
		watch.WithDebounce(*debounce),
		watch.WithLogger(newRunnerLogger(cfg)),
	)
	if err != nil {
		die("create watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := watcher.Start(ctx); err != nil {
		die("start watcher: %v", err)
	}
	fmt.Printf("Watching %s (debounce %s)\n", cfg.ProjectDir, *debounce)

	waitForSignal()
	fmt.Println("Stopping watcher...")
	watcher.Stop()
	dispatcher.Wait()
}

func cmdSecrets(args []string) {
	fs := flag.NewFlagSet("secrets", flag.ExitOnError)
	projectDir := fs.String("project", "", "path to the project directory (defaults to cwd)")
	_ = fs.Parse(args)

	cfg := loadProject(*projectDir)
	store, err := secrets.Load(cfg.SecretsPath())
	if err != nil {
		die("load secrets: %v", err)
	}
	names := store.Names()
	if len(names) == 0 {
		fmt.Printf("No secrets configured in %s.\n", cfg.SecretsPath())
		return
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

// loadProject resolves the project directory, ensures the .gantry tree
// exists, and loads the project configuration.
func loadProject(projectDir string) *config.Config {
	project := projectDir
	if project == "" {
		cwd, err := os.Getwd()
		if err != nil {
			die("determine working directory: %v", err)
		}
		project = cwd
	}
	absolute, err := filepath.Abs(project)
	if err != nil {
		die("resolve project dir: %v", err)
	}
	if err := config.InitGantryDir(absolute); err != nil {
		die("init .gantry: %v", err)
	}
	cfg, err := config.NewConfig(absolute)
	if err != nil {
		die("load config: %v", err)
	}
	return cfg
}

func buildRegistry(cfg *config.Config) *action.Registry {
	registry := action.NewRegistry()
	actions.RegisterBuiltins(registry)
	if err := plugins.RegisterActionPlugins(registry, cfg); err != nil {
		die("load plugins: %v", err)
	}
	return registry
}

func buildEngine(cfg *config.Config) *run.Engine {
	registry := buildRegistry(cfg)
	store, err := secrets.Load(cfg.SecretsPath())
	if err != nil {
		die("load secrets: %v", err)
	}
	opts := []run.Option{run.WithLogger(newRunnerLogger(cfg))}
	if mirror := buildObjectStore(cfg, store); mirror != nil {
		opts = append(opts, run.WithObjectStore(mirror))
	}
	engine, err := run.New(cfg, registry, store, opts...)
	if err != nil {
		die("create engine: %v", err)
	}
	return engine
}

func buildDispatcher(cfg *config.Config) *eventbridge.Dispatcher {
	dispatcher, err := eventbridge.NewDispatcher(cfg, buildEngine(cfg),
		eventbridge.DispatcherWithLogger(newRunnerLogger(cfg)),
	)
	if err != nil {
		die("create dispatcher: %v", err)
	}
	return dispatcher
}

// buildObjectStore connects the optional run mirror, resolving its
// credentials through the secrets store. A misconfigured mirror is fatal; a
// disabled one is silently skipped.
func buildObjectStore(cfg *config.Config, store *secrets.Store) *artifact.ObjectStore {
	raw := cfg.Project.ObjectStore
	if !raw.Enabled() {
		return nil
	}
	accessKey, _ := store.Lookup(raw.AccessKeySecret)
	secretKey, _ := store.Lookup(raw.SecretKeySecret)
	region, _ := store.Lookup(raw.RegionSecret)
	if region == "" {
		region = raw.Region
	}
	mirror, err := artifact.NewObjectStore(artifact.ObjectStoreConfig{
		Endpoint:  raw.Endpoint,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Region:    region,
		UseSSL:    raw.UseSSL,
		Bucket:    raw.Bucket,
	})
	if err != nil {
		die("connect object store: %v", err)
	}
	return mirror
}

func printState(state run.State) {
	fmt.Printf("Run %s finished: %s\n", state.RunID, state.Status)
	if state.StatusReason != "" {
		fmt.Printf("  reason: %s\n", state.StatusReason)
	}
	for _, job := range state.JobStates() {
		line := fmt.Sprintf("  %-10s %s", job.Status, job.ID)
		if job.Reason != "" {
			line += fmt.Sprintf(" (%s)", job.Reason)
		}
		fmt.Println(line)
	}
}

func waitForSignal() {
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals
	signal.Stop(signals)
}

func die(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// runnerLogger mirrors progress to stderr and the project's persistent log
// file so failures survive the terminal session.
type runnerLogger struct {
	file *logging.Logger
}

func newRunnerLogger(cfg *config.Config) runnerLogger {
	file, err := logging.New(cfg.ProjectDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file: %v\n", err)
		file = nil
	}
	return runnerLogger{file: file}
}

func (l runnerLogger) Printf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	l.file.Printf(format, args...)
}
