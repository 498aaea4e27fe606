// evalctl drives the factorial tutor-evaluation harness: it expands a run
// specification into trials, executes them against configured model
// backends, judges the results, and reports on what happened.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/codeready-toolchain/tarsy-eval/pkg/backend"
	"github.com/codeready-toolchain/tarsy-eval/pkg/cleanup"
	"github.com/codeready-toolchain/tarsy-eval/pkg/config"
	"github.com/codeready-toolchain/tarsy-eval/pkg/content"
	"github.com/codeready-toolchain/tarsy-eval/pkg/dialogue"
	"github.com/codeready-toolchain/tarsy-eval/pkg/evalmodel"
	"github.com/codeready-toolchain/tarsy-eval/pkg/judge"
	"github.com/codeready-toolchain/tarsy-eval/pkg/progresslog"
	"github.com/codeready-toolchain/tarsy-eval/pkg/scheduler"
	"github.com/codeready-toolchain/tarsy-eval/pkg/store"
	"github.com/codeready-toolchain/tarsy-eval/pkg/version"
	"github.com/joho/godotenv"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	contentDir := flag.String("content-dir", getEnv("CONTENT_DIR", "./content"), "path to scenarios.yaml/profiles.yaml directory")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: evalctl [--config-dir dir] [--content-dir dir] <command> [args]")
		fmt.Fprintln(os.Stderr, "commands: run, resume, rejudge, evaluate, runs, report, status, watch, transcript, export, cleanup, revert")
		os.Exit(1)
	}

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("no .env file loaded", "path", envPath, "error", err)
	} else {
		slog.Info("loaded environment", "path", envPath)
	}

	slog.Info("starting evalctl", "version", version.Full(), "config_dir", *configDir, "content_dir", *contentDir, "command", args[0])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := newEnvironment(ctx, *configDir, *contentDir)
	if err != nil {
		slog.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer env.store.Close()

	code := dispatch(ctx, env, args[0], args[1:])
	os.Exit(code)
}

// environment bundles everything a subcommand needs: loaded configuration
// plus the Deps the scheduler package operates on.
type environment struct {
	cfg     *config.Config
	catalog *content.Catalogue
	store   *store.Client
	deps    scheduler.Deps
}

func newEnvironment(ctx context.Context, configDir, contentDir string) (*environment, error) {
	cfg, err := config.Initialize(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	storeClient, err := store.NewClient(ctx, store.DefaultConfig(cfg.Paths.DatabasePath()))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	transcripts, err := store.NewTranscriptStore(cfg.Paths.TranscriptsDir())
	if err != nil {
		return nil, fmt.Errorf("opening transcript store: %w", err)
	}

	if err := os.MkdirAll(cfg.Paths.ProgressDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating progress directory: %w", err)
	}

	template := content.DefaultModelTemplate(
		getEnv("EVALCTL_PROVIDER", "anthropic"),
		getEnv("EVALCTL_EGO_MODEL", "claude-sonnet-4-20250514"),
		getEnv("EVALCTL_SUPEREGO_MODEL", "claude-sonnet-4-20250514"),
		getEnv("EVALCTL_LEARNER_MODEL", "claude-sonnet-4-20250514"),
		4,
	)
	catalog, err := content.Load(contentDir, template)
	if err != nil {
		return nil, fmt.Errorf("loading content catalogue: %w", err)
	}

	router := backend.NewRouter().
		Register("anthropic", backend.NewRetrying(backend.NewAnthropic(os.Getenv("ANTHROPIC_API_KEY")))).
		Register("openai", backend.NewRetrying(backend.NewOpenAI(os.Getenv("OPENAI_API_KEY"))))

	// The judge always plays a single fixed role, unlike the dialogue
	// engine's shared router (ego/superego/learner calls all flow through
	// it), so only the judge's backend can be labeled with one Role for
	// telemetry without mislabeling other roles' calls.
	judgeBackend, err := backend.NewInstrumented(router, backend.RoleJudge, nil)
	if err != nil {
		return nil, fmt.Errorf("instrumenting judge backend: %w", err)
	}

	deps := scheduler.Deps{
		Store:       storeClient,
		Transcripts: transcripts,
		ProgressDir: cfg.Paths.ProgressDir(),
		Engine:      dialogue.NewEngine(router),
		Judge:       judge.NewJudge(judgeBackend),
		Scenarios:   catalog,
		Profiles:    catalog.Profiles(),
		Config:      cfg.Scheduler,
	}

	return &environment{cfg: cfg, catalog: catalog, store: storeClient, deps: deps}, nil
}

func dispatch(ctx context.Context, env *environment, cmd string, args []string) int {
	switch cmd {
	case "run":
		return cmdRun(ctx, env, args)
	case "resume":
		return cmdResume(ctx, env, args)
	case "rejudge":
		return cmdRejudge(ctx, env, args)
	case "evaluate":
		return cmdEvaluate(ctx, env, args)
	case "runs":
		return cmdRuns(ctx, env, args)
	case "report", "export":
		return cmdExport(ctx, env, args)
	case "status", "watch":
		return cmdStatusOrWatch(ctx, env, cmd, args)
	case "transcript":
		return cmdTranscript(ctx, env, args)
	case "cleanup":
		return cmdCleanup(ctx, env, args)
	case "revert":
		return cmdRevert(ctx, env, args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		return 1
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func cmdRun(ctx context.Context, env *environment, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	scenario := fs.String("scenario", "", "comma-separated scenario ids; empty means all")
	cluster := fs.String("cluster", "", "comma-separated cluster tags to filter scenarios")
	profile := fs.String("profile", "", "comma-separated profile/cell names")
	allProfiles := fs.Bool("all-profiles", false, "run every profile the catalogue defines")
	factorial := fs.Bool("factorial", false, "run the 8 cell_1..cell_8 factorial configurations")
	replications := fs.Int("runs", 1, "replications per (scenario, configuration) pair")
	parallelism := fs.Int("parallelism", 0, "worker pool size; 0 uses the configured default")
	skipRubric := fs.Bool("skip-rubric", false, "defer judging; use `evaluate` later")
	description := fs.String("description", "", "free-text run description")
	judgeProvider := fs.String("judge", "anthropic", "judge provider")
	judgeModel := fs.String("judge-model", "claude-sonnet-4-20250514", "judge model")
	_ = fs.String("model", "", "override every role's model (unused alias; set --ego-model/--superego-model)")
	egoModel := fs.String("ego-model", "", "override the ego role's model")
	superegoModel := fs.String("superego-model", "", "override the superego role's model")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	overrides := map[backend.Role]string{}
	if *egoModel != "" {
		overrides[backend.RoleEgo] = *egoModel
	}
	if *superegoModel != "" {
		overrides[backend.RoleSuperego] = *superegoModel
	}

	spec := scheduler.RunSpec{
		Description:    *description,
		Scenarios:      splitCSV(*scenario),
		AllScenarios:   *scenario == "" && *cluster == "",
		ClusterTags:    splitCSV(*cluster),
		Profiles:       splitCSV(*profile),
		AllProfiles:    *allProfiles,
		FactorialCells: *factorial,
		Replications:   *replications,
		Parallelism:    *parallelism,
		ModelOverrides: overrides,
		JudgeProvider:  *judgeProvider,
		JudgeModel:     *judgeModel,
		SkipRubric:     *skipRubric,
	}

	run, err := scheduler.Run(ctx, spec, env.deps)
	return reportRunOutcome(run, err)
}

func cmdResume(ctx context.Context, env *environment, args []string) int {
	fs := flag.NewFlagSet("resume", flag.ExitOnError)
	parallelism := fs.Int("parallelism", 0, "worker pool size override")
	_ = fs.Bool("force", false, "unused: resume always redrives unsuccessful trials")
	_ = fs.Bool("verbose", false, "unused: logging verbosity is controlled by slog level")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: evalctl resume <run_id> [flags]")
		return 1
	}
	runID := fs.Arg(0)

	spec := scheduler.RunSpec{Parallelism: *parallelism}
	run, err := scheduler.Resume(ctx, runID, spec, env.deps)
	return reportRunOutcome(run, err)
}

func reportRunOutcome(run evalmodel.Run, err error) int {
	if errors.Is(err, scheduler.ErrCancelled) {
		slog.Info("run cancelled", "run_id", run.RunID)
		return 130 // conventional 128+SIGINT, matching a Ctrl-C interrupted run
	}
	if err != nil {
		slog.Error("run failed", "run_id", run.RunID, "error", err)
		return 1
	}
	slog.Info("run finished", "run_id", run.RunID, "status", run.Status, "total_tests", run.TotalTests)
	if run.Status == evalmodel.RunStatusFailed {
		return 2
	}
	return 0
}

func cmdRejudge(ctx context.Context, env *environment, args []string) int {
	fs := flag.NewFlagSet("rejudge", flag.ExitOnError)
	judgeProvider := fs.String("judge", "anthropic", "judge provider")
	judgeModel := fs.String("judge-model", "claude-sonnet-4-20250514", "judge model")
	scenario := fs.String("scenario", "", "limit to one scenario id")
	profile := fs.String("profile", "", "limit to one profile name")
	overwrite := fs.Bool("overwrite", false, "replace scores in place instead of appending history rows")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: evalctl rejudge <run_id> [flags]")
		return 1
	}
	runID := fs.Arg(0)

	filter := store.ResultsFilter{ScenarioID: *scenario, ProfileName: *profile}
	if err := scheduler.Rejudge(ctx, runID, filter, *overwrite, *judgeProvider, *judgeModel, env.deps); err != nil {
		slog.Error("rejudge failed", "run_id", runID, "error", err)
		return 1
	}
	slog.Info("rejudge complete", "run_id", runID)
	return 0
}

func cmdEvaluate(ctx context.Context, env *environment, args []string) int {
	fs := flag.NewFlagSet("evaluate", flag.ExitOnError)
	judgeProvider := fs.String("judge", "anthropic", "judge provider")
	judgeModel := fs.String("judge-model", "claude-sonnet-4-20250514", "judge model")
	follow := fs.Bool("follow", false, "poll for newly skip-rubric trials and score them as they appear")
	refreshMS := fs.Int("refresh", 2000, "poll interval in milliseconds, with --follow")
	_ = fs.String("model", "", "unused alias for --judge-model")
	_ = fs.Bool("review", false, "unused: qualitative review is an export-time concern")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: evalctl evaluate <run_id> [flags]")
		return 1
	}
	runID := fs.Arg(0)

	if err := scheduler.Evaluate(ctx, runID, *judgeProvider, *judgeModel, env.deps); err != nil {
		slog.Error("evaluate failed", "run_id", runID, "error", err)
		return 1
	}
	if !*follow {
		slog.Info("evaluate complete", "run_id", runID)
		return 0
	}

	interval := time.Duration(*refreshMS) * time.Millisecond
	for {
		run, err := env.store.GetRun(ctx, runID)
		if err != nil {
			slog.Error("evaluate --follow: loading run failed", "run_id", runID, "error", err)
			return 1
		}
		if run.Status != evalmodel.RunStatusRunning {
			slog.Info("evaluate --follow: run no longer active, stopping", "run_id", runID, "status", run.Status)
			return 0
		}
		if err := scheduler.Evaluate(ctx, runID, *judgeProvider, *judgeModel, env.deps); err != nil {
			slog.Error("evaluate --follow pass failed", "run_id", runID, "error", err)
		}
		time.Sleep(interval)
	}
}

func cmdRuns(ctx context.Context, env *environment, args []string) int {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	status := fs.String("status", "", "filter by status (running, completed, failed)")
	limit := fs.Int("limit", 20, "maximum runs to list, newest first")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	runs, err := env.store.ListRuns(ctx, store.ListRunsFilter{Status: evalmodel.RunStatus(*status), Limit: *limit})
	if err != nil {
		slog.Error("runs: listing failed", "error", err)
		return 1
	}
	for _, r := range runs {
		fmt.Printf("%s\t%s\t%s\t%d/%d\t%s\n", r.RunID, r.Status, r.CreatedAt.Format(time.RFC3339), r.CompletedProgress, r.TotalTests, r.Description)
	}
	return 0
}

func cmdExport(ctx context.Context, env *environment, args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "", "output file; defaults to <exports>/<run_id>.json")
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: evalctl export <run_id> [--out path]")
		return 1
	}
	runID := fs.Arg(0)

	data, err := env.store.ExportJSON(ctx, runID)
	if err != nil {
		slog.Error("export failed", "run_id", runID, "error", err)
		return 1
	}

	path := *out
	if path == "" {
		if err := os.MkdirAll(env.cfg.Paths.ExportsDir, 0o755); err != nil {
			slog.Error("export: creating exports directory failed", "error", err)
			return 1
		}
		path = filepath.Join(env.cfg.Paths.ExportsDir, runID+".json")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Error("export: writing file failed", "path", path, "error", err)
		return 1
	}
	slog.Info("export complete", "run_id", runID, "path", path)
	return 0
}

func cmdStatusOrWatch(ctx context.Context, env *environment, cmd string, args []string) int {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: evalctl %s <run_id>\n", cmd)
		return 1
	}
	runID := fs.Arg(0)
	progressPath := filepath.Join(env.cfg.Paths.ProgressDir(), runID+".jsonl")

	printGrid := func() error {
		grid, err := progresslog.Reconstruct(progressPath)
		if err != nil {
			return err
		}
		fmt.Printf("scenarios=%d profiles=%d total=%d completed=%d errored=%d\n",
			len(grid.Scenarios), len(grid.Profiles), grid.TotalTests, grid.Completed, grid.Errored)
		for _, scenarioID := range grid.Scenarios {
			for _, profileName := range grid.Profiles {
				cell := grid.CellOutcome(scenarioID, profileName)
				fmt.Printf("  %s / %s: %s\n", scenarioID, profileName, cell.Outcome)
			}
		}
		return nil
	}

	if cmd == "status" {
		if err := printGrid(); err != nil {
			slog.Error("status: reconstructing progress failed", "run_id", runID, "error", err)
			return 1
		}
		return 0
	}

	fmt.Printf("watching %s (ctrl-c to stop)\n", progressPath)
	err := progresslog.Tail(ctx, progressPath, func(event evalmodel.ProgressEvent) {
		data, _ := json.Marshal(event)
		fmt.Println(string(data))
	}, progresslog.TailOptions{})
	if err != nil {
		slog.Error("watch failed", "run_id", runID, "error", err)
		return 1
	}
	return 0
}

func cmdTranscript(_ context.Context, env *environment, args []string) int {
	fs := flag.NewFlagSet("transcript", flag.ExitOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: evalctl transcript <dialogue_id>")
		return 1
	}
	dialogueID := fs.Arg(0)

	transcript, err := env.deps.Transcripts.ReadByDialogueID(dialogueID)
	if err != nil {
		slog.Error("transcript: lookup failed", "dialogue_id", dialogueID, "error", err)
		return 1
	}
	data, err := json.MarshalIndent(transcript, "", "  ")
	if err != nil {
		slog.Error("transcript: rendering failed", "dialogue_id", dialogueID, "error", err)
		return 1
	}
	fmt.Println(string(data))
	return 0
}

func cmdCleanup(ctx context.Context, env *environment, args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return 1
	}

	sweeper := scheduler.NewStaleSweeper(env.store, env.cfg.Scheduler)
	svc := cleanup.NewService(env.cfg.Retention, sweeper)
	svc.Start(ctx, env.cfg.Paths.ExportsDir)
	defer svc.Stop()

	slog.Info("cleanup service running; press ctrl-c to stop")
	<-ctx.Done()
	return 0
}

// cmdRevert reopens a completed run back to running, the explicit opt-in
// status reversion UpdateRunFields documents, so a `resume` can pick it
// back up without treating the change as accidental.
func cmdRevert(ctx context.Context, env *environment, args []string) int {
	fs := flag.NewFlagSet("revert", flag.ExitOnError)
	if err := fs.Parse(args); err != nil || fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: evalctl revert <run_id>")
		return 1
	}
	runID := fs.Arg(0)

	if err := env.store.UpdateRun(ctx, runID, evalmodel.UpdateRunFields{Status: evalmodel.RunStatusRunning}); err != nil {
		slog.Error("revert failed", "run_id", runID, "error", err)
		return 1
	}
	slog.Info("run reverted to running", "run_id", runID)
	return 0
}
