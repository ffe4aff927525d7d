package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mgx-dev/mgx/internal/broadcast"
	"github.com/mgx-dev/mgx/internal/cache"
	"github.com/mgx-dev/mgx/internal/config"
	"github.com/mgx-dev/mgx/internal/event"
	"github.com/mgx-dev/mgx/internal/executor"
	"github.com/mgx-dev/mgx/internal/llm"
	"github.com/mgx-dev/mgx/internal/manifest"
	"github.com/mgx-dev/mgx/internal/patch"
	"github.com/mgx-dev/mgx/internal/store"
)

// Exit codes for one-shot runs, stable for scripting.
const (
	exitGuardrail = 1 // output rejected after exhausting revisions
	exitDenied    = 2 // plan rejected, cancelled, or approval timed out
	exitTimeout   = 3 // run exceeded its time budget
	exitInternal  = 4
)

func newRunCmd() *cobra.Command {
	var (
		cfgPath     string
		title       string
		description string
		stack       string
		projectType string
		outputMode  string
		projectPath string
		outDir      string
		logsRoot    string
		autoApprove bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one task locally and stream its events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

			cfg := config.Default()
			if cfgPath != "" {
				var err error
				cfg, err = config.Load(cfgPath)
				if err != nil {
					return err
				}
			}

			client, err := llm.NewFromEnv()
			if err != nil {
				return err
			}

			backend := cfg.CacheBackend
			if !cfg.EnableCaching {
				backend = cache.BackendNull
			}
			c, err := cache.New(backend, cfg.CacheMaxEntries, cfg.CacheTTL(), cfg.RemoteURL, logger)
			if err != nil {
				return err
			}

			st := store.NewMemoryStore()
			bus := broadcast.New(cfg.SubscriberQueueCapacity)
			exec := executor.New(st, bus, c, client, cfg, logger)
			exec.LogsRoot = logsRoot

			task := &store.Task{
				Title:               title,
				Description:         description,
				TargetStack:         stack,
				ProjectType:         store.ProjectType(projectType),
				OutputMode:          store.OutputMode(outputMode),
				ExistingProjectPath: projectPath,
			}
			if task.OutputMode == store.OutputPatchExisting && projectPath == "" {
				return fmt.Errorf("--path is required with --mode patch_existing")
			}
			if err := st.CreateTask(task); err != nil {
				return err
			}

			sub := bus.Subscribe(broadcast.TaskChannel(task.ID))
			defer sub.Unsubscribe()

			run, err := exec.StartRun(task.ID)
			if err != nil {
				return &exitError{code: exitInternal, msg: err.Error()}
			}

			out := cmd.OutOrStdout()
			ctx := cmd.Context()
			for done := false; !done; {
				ev, ok := sub.Next(ctx)
				if !ok {
					break
				}
				printEvent(out, ev)
				switch ev.EventType {
				case event.ApprovalRequired:
					approved, feedback := true, ""
					if !autoApprove {
						approved, feedback = promptDecision(cmd.InOrStdin(), out)
					}
					if err := exec.Approve(run.ID, approved, feedback); err != nil {
						fmt.Fprintf(out, "approval not accepted: %v\n", err)
					}
				case event.TaskCompleted, event.TaskFailed, event.TaskCancelled:
					done = true
				}
			}
			exec.Wait()
			bus.Close()

			final, err := st.LoadRun(run.ID)
			if err != nil {
				return &exitError{code: exitInternal, msg: err.Error()}
			}
			if outDir != "" && final.Status == store.StatusCompleted {
				if err := exportArtifacts(st, final.ID, outDir); err != nil {
					return &exitError{code: exitInternal, msg: err.Error()}
				}
				fmt.Fprintf(out, "wrote generated files to %s\n", outDir)
			}
			return exitFor(final)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to a YAML config file")
	cmd.Flags().StringVar(&title, "title", "", "task title (required)")
	cmd.Flags().StringVar(&description, "description", "", "task description")
	cmd.Flags().StringVar(&stack, "stack", "", "target stack hint, e.g. fastapi")
	cmd.Flags().StringVar(&projectType, "type", "api", "project type: api, webapp, fullstack, devops")
	cmd.Flags().StringVar(&outputMode, "mode", "generate_new", "output mode: generate_new or patch_existing")
	cmd.Flags().StringVar(&projectPath, "path", "", "existing project root for patch_existing")
	cmd.Flags().StringVar(&outDir, "out", "", "directory to write generated files into on success")
	cmd.Flags().StringVar(&logsRoot, "logs-root", defaultLogsRoot(), "directory for per-run artifact mirrors")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "approve the plan without prompting")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func printEvent(w io.Writer, ev event.Envelope) {
	ts := ev.Timestamp.Format("15:04:05")
	switch ev.EventType {
	case event.PlanReady:
		fmt.Fprintf(w, "[%s] plan ready:\n%s\n", ts, ev.Data["plan"])
	case event.Progress:
		fmt.Fprintf(w, "[%s] step %v/%v %v\n", ts, ev.Data["step"], ev.Data["total_steps"], ev.Data["current_phase"])
	case event.Failure:
		fmt.Fprintf(w, "[%s] %s (%v: %v)\n", ts, ev.EventType, ev.Data["error_kind"], ev.Data["error_message"])
	default:
		fmt.Fprintf(w, "[%s] %s\n", ts, ev.EventType)
	}
}

func promptDecision(in io.Reader, out io.Writer) (approved bool, feedback string) {
	fmt.Fprint(out, "approve plan? [y/N] ")
	sc := bufio.NewScanner(in)
	if !sc.Scan() {
		return false, ""
	}
	switch strings.TrimSpace(strings.ToLower(sc.Text())) {
	case "y", "yes":
		return true, ""
	}
	fmt.Fprint(out, "feedback (optional): ")
	if sc.Scan() {
		feedback = strings.TrimSpace(sc.Text())
	}
	return false, feedback
}

// exportArtifacts materializes a completed run's stored manifests and notes
// under dir.
func exportArtifacts(st store.Repository, runID, dir string) error {
	arts, err := st.Artifacts(runID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	var entries []manifest.Entry
	for _, a := range arts {
		switch a.Type {
		case store.ArtifactCode, store.ArtifactTest:
			parsed, perr := manifest.Parse(string(a.Content), false)
			if perr != nil {
				return fmt.Errorf("parse %s: %w", a.Name, perr)
			}
			entries = append(entries, parsed...)
		default:
			if werr := os.WriteFile(filepath.Join(dir, a.Name), a.Content, 0o644); werr != nil {
				return werr
			}
		}
	}
	batch := patch.WriteManifest(dir, entries, patch.BestEffort, patch.Options{})
	if batch.Failed {
		first, _ := batch.FirstFailure()
		return fmt.Errorf("write %s: %s", first.Path, first.Failure)
	}
	return nil
}

func exitFor(run *store.TaskRun) error {
	if run.Status == store.StatusCompleted {
		return nil
	}
	if run.Status == store.StatusTimeout {
		return &exitError{code: exitTimeout, msg: "run exceeded its time budget"}
	}
	kind := ""
	msg := string(run.Status)
	if run.Error != nil {
		kind = run.Error.Kind
		msg = run.Error.Message
	}
	switch kind {
	case executor.KindRevisionExhausted:
		return &exitError{code: exitGuardrail, msg: msg}
	case executor.KindApprovalTimeout, executor.KindCancelled:
		return &exitError{code: exitDenied, msg: msg}
	case executor.KindRunTimeout:
		return &exitError{code: exitTimeout, msg: msg}
	}
	return &exitError{code: exitInternal, msg: msg}
}
