package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/stagehq/stagehand/internal/hook"
	"github.com/stagehq/stagehand/internal/lockstore"
	"github.com/stagehq/stagehand/internal/logging"
	"github.com/stagehq/stagehand/internal/model"
	"github.com/stagehq/stagehand/internal/setup"
	"github.com/stagehq/stagehand/internal/watch"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "hook":
		runHook(os.Args[2:])
	case "init":
		runInit(os.Args[2:])
	case "locks":
		runLocks(os.Args[2:])
	case "state":
		runState(os.Args[2:])
	case "calibration":
		runCalibration(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	case "version":
		fmt.Printf("stagehand %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// hookEventNames maps CLI subcommand spellings to protocol event names.
var hookEventNames = map[string]string{
	"pre-tool-use":  hook.EventPreToolUse,
	"post-tool-use": hook.EventPostToolUse,
	"session-start": hook.EventSessionStart,
	"session-end":   hook.EventSessionEnd,
	"subagent-stop": hook.EventSubagentStop,
}

// runHook reads one event from stdin, emits one decision on stdout, and
// always exits 0: a coordination failure must never break the user's tool
// call.
func runHook(args []string) {
	emitAllow := func() {
		_ = hook.Allow().Write(os.Stdout)
		os.Exit(0)
	}

	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: stagehand hook <pre-tool-use|post-tool-use|session-start|session-end|subagent-stop>")
		emitAllow()
	}
	eventName, ok := hookEventNames[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown hook event: %s\n", args[0])
		emitAllow()
	}

	ev, err := hook.ParseEvent(os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stagehand: ignoring malformed event: %v\n", err)
		emitAllow()
	}

	projectRoot := resolveProjectRoot(ev)
	stageDir := filepath.Join(projectRoot, setup.StageDirName)

	cfg, err := setup.LoadConfig(stageDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "stagehand: config: %v\n", err)
		cfg = model.Config{}
		cfg.ApplyDefaults()
	}

	logger := logging.New(openHookLog(stageDir), logging.ParseLevel(cfg.Logging.Level), "hook")
	h := hook.NewHandler(projectRoot, stageDir, cfg, logger)

	decision := h.Handle(eventName, ev)
	if err := decision.Write(os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "stagehand: write decision: %v\n", err)
	}
	os.Exit(0)
}

// openHookLog appends to .stagehand/logs/hooks.log, falling back to a
// discard sink; hook stdout must stay reserved for the decision document.
func openHookLog(stageDir string) io.Writer {
	logPath := filepath.Join(stageDir, "logs", "hooks.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return io.Discard
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return io.Discard
	}
	return f
}

func resolveProjectRoot(ev *hook.Event) string {
	if ev != nil {
		if ev.ProjectDir != "" {
			return ev.ProjectDir
		}
		if ev.CWD != "" {
			return ev.CWD
		}
	}
	if dir := os.Getenv("STAGEHAND_PROJECT_DIR"); dir != "" {
		return dir
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func runInit(args []string) {
	projectDir := "."
	projectName := ""
	if len(args) > 0 {
		projectDir = args[0]
	}
	if len(args) > 1 {
		projectName = args[1]
	}
	if err := setup.Run(projectDir, projectName); err != nil {
		fmt.Fprintf(os.Stderr, "init failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("initialized %s\n", filepath.Join(projectDir, setup.StageDirName))
}

func runLocks(args []string) {
	h := diagnosticHandler()
	if len(args) < 1 {
		args = []string{"list"}
	}
	switch args[0] {
	case "list":
		locks, err := h.Locks().ListActive()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list locks: %v\n", err)
			os.Exit(1)
		}
		if len(locks) == 0 {
			fmt.Println("no active locks")
			return
		}
		for _, l := range locks {
			fmt.Printf("%-40s %-16s owner=%s expires=%s reason=%s\n",
				l.ResourceKey, l.Kind, l.OwnerInstanceID, l.ExpiresAt, l.Reason)
		}
	case "release":
		if len(args) < 3 {
			fmt.Fprintln(os.Stderr, "usage: stagehand locks release <resource> <owner>")
			os.Exit(1)
		}
		err := h.Locks().Release(args[1], args[2])
		if errors.Is(err, lockstore.ErrNotOwner) {
			// Foreign release is a courtesy no-op, not a failure.
			fmt.Printf("not released: %s is held by another owner\n", args[1])
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "release: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("released")
	default:
		fmt.Fprintf(os.Stderr, "unknown locks subcommand: %s\n", args[0])
		os.Exit(1)
	}
}

func runState(args []string) {
	h := diagnosticHandler()
	st := h.Sessions().Load()
	fmt.Printf("session:      %s\n", st.SessionID)
	fmt.Printf("current task: %s\n", st.CurrentTask)
	for _, t := range st.Tasks {
		fmt.Printf("task %-36s agent=%-12s status=%-12s retries=%d\n",
			t.ID, t.AgentLabel, t.Status, t.RetryCount)
	}
	for label, status := range st.Agents {
		fmt.Printf("agent %-20s %s\n", label, status)
	}
}

func runCalibration(args []string) {
	h := diagnosticHandler()
	stats := h.Engine().AllStats()
	if len(stats) == 0 {
		fmt.Println("no outcome records")
		return
	}
	fmt.Printf("%-32s %8s %12s %14s %12s\n", "CATEGORY", "SAMPLES", "SUCCESS", "MEAN_MS", "CONFIDENCE")
	for _, s := range stats {
		fmt.Printf("%-32s %8d %11.0f%% %14d %12.2f\n",
			s.CategoryKey, s.Samples, s.SuccessRate*100, s.MeanDurationMS, s.MeanConfidence)
	}
}

func runWatch(args []string) {
	projectRoot := resolveProjectRoot(nil)
	stageDir := filepath.Join(projectRoot, setup.StageDirName)
	cfg, err := setup.LoadConfig(stageDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level), "watch")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w := watch.New(stageDir, projectRoot, cfg, logger, os.Stdout)
	if err := w.Run(ctx); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "watch: %v\n", err)
		os.Exit(1)
	}
}

// diagnosticHandler builds a handler rooted at the current project for the
// read-mostly CLI commands.
func diagnosticHandler() *hook.Handler {
	projectRoot := resolveProjectRoot(nil)
	stageDir := filepath.Join(projectRoot, setup.StageDirName)
	cfg, err := setup.LoadConfig(stageDir)
	if err != nil {
		cfg = model.Config{}
		cfg.ApplyDefaults()
	}
	logger := logging.New(os.Stderr, logging.ParseLevel(cfg.Logging.Level), "cli")
	return hook.NewHandler(projectRoot, stageDir, cfg, logger)
}

func printUsage() {
	fmt.Println(`stagehand - file-based coordination for concurrent assistant instances

Usage:
  stagehand hook <event>      Handle one hook event (stdin: event JSON, stdout: decision JSON)
                              events: pre-tool-use, post-tool-use, session-start,
                                      session-end, subagent-stop
  stagehand init [dir] [name] Create the .stagehand/ coordination directory
  stagehand locks [list]      Show active locks
  stagehand locks release <resource> <owner>
  stagehand state             Show session/orchestration state
  stagehand calibration       Show per-category calibration statistics
  stagehand watch             Tail coordination activity (one watcher per project)
  stagehand version`)
}
