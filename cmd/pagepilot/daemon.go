package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"pagepilot/internal/daemon"
	"pagepilot/internal/notify"
)

var (
	daemonPoll        time.Duration
	daemonLease       time.Duration
	daemonWatch       time.Duration
	enqueueAt         string
	enqueuePayload    string
	installStart      bool
	daemonJobTypes    = []string{daemon.JobPipelineRun, daemon.JobMentionsCheck, daemon.JobGrowthEngage, daemon.JobWatchTick}
	enqueueTimeLayout = "2006-01-02T15:04"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run and manage the scheduling daemon",
}

var daemonRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daemon in the foreground until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		responder, err := a.responder()
		if err != nil {
			return err
		}
		watchPath, err := mentionsPath()
		if err != nil {
			return err
		}
		watchEvery := daemonWatch
		if watchEvery == 0 || watchPath == "" {
			watchPath, watchEvery = "", 0
		}
		d, err := daemon.New(daemon.Config{
			Workspace: ws,
			StorePath: ws.DaemonDBPath,
			TimeZone:  cfg.Schedule.TimeZone,
			Schedule: daemon.Schedule{
				PipelineHour:  cfg.Schedule.PipelineHour,
				MentionsEvery: time.Duration(cfg.Schedule.MentionsEveryMinutes) * time.Minute,
				GrowthEvery:   time.Duration(cfg.Schedule.GrowthEveryHours) * time.Hour,
				WatchEvery:    watchEvery,
			},
			Services: daemon.Services{
				Pipeline:     a.controller(),
				Mentions:     responder,
				Growth:       a.growth(),
				Notifier:     &notify.Notifier{Enabled: cfg.Schedule.Notify},
				MentionsPath: watchPath,
			},
			LeaseFor:     daemonLease,
			PollInterval: daemonPoll,
			Logger:       logger.Named("daemon"),
		})
		if err != nil {
			return fmt.Errorf("create daemon: %w", err)
		}
		defer d.Close()

		fmt.Fprintf(os.Stdout, "Starting daemon for workspace: %s\n", ws.Root)
		fmt.Fprintf(os.Stdout, "Poll interval: %s, Lease: %s\n", daemonPoll, daemonLease)
		return d.Run(ctx)
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show running, queued and recently finished jobs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := daemon.Open(ws.DaemonDBPath)
		if err != nil {
			return fmt.Errorf("open daemon store: %w", err)
		}
		defer store.Close()

		if runtime.GOOS == "darwin" {
			if loaded, err := daemon.IsRunning(ctx, ws); err == nil {
				fmt.Fprintf(os.Stdout, "LaunchAgent %s loaded: %v\n\n", daemon.PlistLabel(ws.Root), loaded)
			}
		}

		running, err := store.ListByStatus(ctx, daemon.JobRunning, 50)
		if err != nil {
			return fmt.Errorf("list running jobs: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Running jobs: %d\n", len(running))
		for _, job := range running {
			fmt.Fprintf(os.Stdout, "  %s [%s] attempt=%d started=%s lease_expires=%s\n",
				job.ID, job.Type, job.Attempts, formatTime(job.StartedAt), formatTime(job.LeaseExpiresAt))
		}
		fmt.Fprintln(os.Stdout)

		queued, err := store.ListByStatus(ctx, daemon.JobQueued, 10)
		if err != nil {
			return fmt.Errorf("list queued jobs: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Queued jobs (next %d):\n", len(queued))
		for _, job := range queued {
			fmt.Fprintf(os.Stdout, "  %s [%s] scheduled=%s\n", job.ID, job.Type, job.ScheduledAt.Format(time.RFC3339))
		}
		fmt.Fprintln(os.Stdout)

		completed, err := store.ListRecentCompleted(ctx, 5)
		if err != nil {
			return fmt.Errorf("list completed jobs: %w", err)
		}
		fmt.Fprintf(os.Stdout, "Recent completed jobs (last %d):\n", len(completed))
		for _, job := range completed {
			fmt.Fprintf(os.Stdout, "  %s [%s] status=%s finished=%s\n", job.ID, job.Type, job.Status, formatTime(job.FinishedAt))
			if job.ResultJSON != "" {
				fmt.Fprintf(os.Stdout, "    result: %s\n", job.ResultJSON)
			}
		}
		return nil
	},
}

var daemonEnqueueCmd = &cobra.Command{
	Use:   "enqueue <job-type>",
	Short: "Queue a job for the daemon",
	Long: `Queues a job of the given type. Without --at the job is due now and always
created; with --at (YYYY-MM-DDTHH:MM, local time) a job already queued for
that slot is not duplicated.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobType := args[0]
		if !slices.Contains(daemonJobTypes, jobType) {
			return fmt.Errorf("unknown job type %q (known: %v)", jobType, daemonJobTypes)
		}
		var payload map[string]any
		if err := json.Unmarshal([]byte(enqueuePayload), &payload); err != nil {
			return fmt.Errorf("parse --payload-json: %w", err)
		}

		ctx := cmd.Context()
		store, err := daemon.Open(ws.DaemonDBPath)
		if err != nil {
			return fmt.Errorf("open daemon store: %w", err)
		}
		defer store.Close()

		if enqueueAt == "" {
			id, err := store.Enqueue(ctx, jobType, payload)
			if err != nil {
				return fmt.Errorf("enqueue job: %w", err)
			}
			fmt.Fprintf(os.Stdout, "Enqueued job: %s\n", id)
			return nil
		}

		scheduledAt, err := time.ParseInLocation(enqueueTimeLayout, enqueueAt, time.Local)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		id, created, err := store.EnqueueUnique(ctx, jobType, scheduledAt, payload)
		if err != nil {
			return fmt.Errorf("enqueue job: %w", err)
		}
		if created {
			fmt.Fprintf(os.Stdout, "Enqueued job: %s\n", id)
		} else {
			fmt.Fprintf(os.Stdout, "Job already exists: %s\n", id)
		}
		return nil
	},
}

var daemonInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install a macOS LaunchAgent that runs the daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		bin, err := os.Executable()
		if err != nil {
			return fmt.Errorf("locate executable: %w", err)
		}
		path, err := daemon.Install(ws, bin)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Installed LaunchAgent: %s\n", path)
		fmt.Fprintf(os.Stdout, "Logs: %s\n", daemon.LogPath(ws))
		if !installStart {
			fmt.Fprintf(os.Stdout, "Start it with: launchctl load %s\n", path)
			return nil
		}
		if err := daemon.Start(cmd.Context(), ws); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "LaunchAgent loaded")
		return nil
	},
}

var daemonUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Unload and remove the LaunchAgent",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		if err := daemon.Stop(ctx, ws); err != nil {
			return err
		}
		if err := daemon.Uninstall(ws); err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, "LaunchAgent removed")
		return nil
	},
}

func init() {
	daemonRunCmd.Flags().DurationVar(&daemonPoll, "poll", time.Second, "Poll interval for checking jobs")
	daemonRunCmd.Flags().DurationVar(&daemonLease, "lease", 2*time.Minute, "Lease duration for claimed jobs")
	daemonRunCmd.Flags().DurationVar(&daemonWatch, "watch", 30*time.Second, "How often to check the mentions file for changes (0 disables)")

	daemonEnqueueCmd.Flags().StringVar(&enqueueAt, "at", "", "Scheduled time (YYYY-MM-DDTHH:MM)")
	daemonEnqueueCmd.Flags().StringVar(&enqueuePayload, "payload-json", "{}", "Job payload as JSON")

	daemonInstallCmd.Flags().BoolVar(&installStart, "start", false, "Load the agent with launchctl after installing")

	daemonCmd.AddCommand(daemonRunCmd, daemonStatusCmd, daemonEnqueueCmd, daemonInstallCmd, daemonUninstallCmd)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
