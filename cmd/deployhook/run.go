package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"deployhook/internal/app"
	"deployhook/internal/deployment"
	"deployhook/internal/notify"
	"deployhook/internal/store"
	"deployhook/internal/worker"

	"github.com/spf13/cobra"
)

var runFlags = flagKeys{
	"db":   "store.path",
	"apps": "apps_file",
}

var runCmd = &cobra.Command{
	Use:   "run APP",
	Short: "Run the pipeline for an app once",
	Long: `Run the deployment pipeline for APP without a notification.

Without --deploy this is a dry run: the tests run and the result is reported,
but nothing is pulled, no hooks run and the app is not reloaded.`,
	Args: cobra.ExactArgs(1),
	RunE: runOnce,
}

func init() {
	runCmd.Flags().Bool("deploy", false, "Pull, run hooks and reload after the tests")
	runCmd.Flags().Bool("no-notify", false, "Do not send a chat notification")
	runCmd.Flags().String("commit", "", "Commit to report (defaults to the working copy HEAD)")
	runCmd.Flags().String("branch", "", "Branch to report")
	runCmd.Flags().String("db", "", "Path to the SQLite configuration store")
	runCmd.Flags().String("apps", "", "Path to apps.yaml")
}

// reportingRunner keeps the reports of the runs it delegates.
type reportingRunner struct {
	next worker.Runner

	mu      sync.Mutex
	reports []*deployment.Report
}

func (r *reportingRunner) Run(ctx context.Context, req *deployment.Request) *deployment.Report {
	report := r.next.Run(ctx, req)
	r.mu.Lock()
	r.reports = append(r.reports, report)
	r.mu.Unlock()
	return report
}

func (r *reportingRunner) last() *deployment.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.reports) == 0 {
		return nil
	}
	return r.reports[len(r.reports)-1]
}

func runOnce(cmd *cobra.Command, args []string) error {
	s, err := loadSettings(cmd, runFlags)
	if err != nil {
		return err
	}
	logger, logCloser, err := cliLogger(s)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	deploy, _ := cmd.Flags().GetBool("deploy")
	noNotify, _ := cmd.Flags().GetBool("no-notify")
	commit, _ := cmd.Flags().GetString("commit")
	branch, _ := cmd.Flags().GetString("branch")

	st, err := store.Open(s.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if path := locateAppsFile(s); path != "" {
		if _, err := importApps(ctx, st, path, logger); err != nil {
			return fmt.Errorf("failed to import %s: %w", path, err)
		}
	}

	pipeline, git, err := newPipeline(s, logger)
	if err != nil {
		return err
	}
	runner := &reportingRunner{next: pipeline}
	w, err := newWorker(ctx, s, st, runner, git, logger)
	if err != nil {
		return err
	}

	versioning := app.VersioningInfo{Commit: commit, Branch: branch}
	opts := deployment.Options{ForceDeploy: deploy, Notify: !noNotify}
	if _, err := w.Trigger(ctx, args[0], versioning, opts); err != nil {
		if errors.Is(err, worker.ErrUnknownApp) {
			return fmt.Errorf("%w (configured: %v)", err, w.AppNames())
		}
		return err
	}
	w.Wait()

	report := runner.last()
	if report == nil {
		return errors.New("run produced no report")
	}
	printReport(cmd.OutOrStdout(), report, s.Notify.CoverageThreshold)

	if report.Outcome.Err != nil {
		return report.Outcome.Err
	}
	if report.TestsFailed() {
		return errors.New("tests failed")
	}
	return nil
}

func printReport(out io.Writer, report *deployment.Report, threshold float64) {
	msg := notify.Format(report, notify.FormatOptions{CoverageThreshold: threshold})
	fmt.Fprintln(out, msg.Headline)
	for _, a := range msg.Attachments {
		fmt.Fprintf(out, "  %s\n", a.Text)
		for _, action := range a.Actions {
			fmt.Fprintf(out, "    %s: %s\n", action.Text, action.URL)
		}
	}
	if report.Outcome.PreHookOutput != nil && *report.Outcome.PreHookOutput != "" {
		fmt.Fprintf(out, "\nprehook output:\n%s\n", *report.Outcome.PreHookOutput)
	}
	if report.Outcome.PostHookOutput != nil && *report.Outcome.PostHookOutput != "" {
		fmt.Fprintf(out, "\nposthook output:\n%s\n", *report.Outcome.PostHookOutput)
	}
	fmt.Fprintf(out, "\nfinished in %s\n", report.Duration.Round(time.Millisecond))
}
