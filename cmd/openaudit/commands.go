package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/OpenAudit/internal/browser"
	"github.com/PentesterFlow/OpenAudit/internal/issues"
	"github.com/PentesterFlow/OpenAudit/internal/monitor"
	"github.com/PentesterFlow/OpenAudit/internal/output"
	"github.com/PentesterFlow/OpenAudit/internal/scope"
	"github.com/PentesterFlow/OpenAudit/internal/shutdown"
	"github.com/PentesterFlow/OpenAudit/internal/worker"
	"github.com/PentesterFlow/OpenAudit/pkg/crawler"
)

var (
	streamIssues bool
	monitorOnce  bool
	metricsAddr  string
	concurrency  int
)

func newIssuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues [crawl-id]",
		Short: "Re-run issue detection for a stored crawl",
		Args:  cobra.ExactArgs(1),
		RunE:  runIssues,
	}
	cmd.Flags().BoolVar(&streamIssues, "stream", false, "Print issues as JSON lines")
	return cmd
}

func runIssues(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(config)
	ctx := cmd.Context()

	st, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := issues.NewDetector(st, log).Run(ctx, args[0])
	if err != nil {
		return fmt.Errorf("issue detection failed: %w", err)
	}

	found, err := st.ListIssues(ctx, args[0])
	if err != nil {
		return err
	}
	sort.SliceStable(found, func(i, j int) bool {
		return found[i].Severity.Rank() < found[j].Severity.Rank()
	})

	if streamIssues {
		w := output.NewJSONWriter(os.Stdout, false, true)
		for _, is := range found {
			if err := w.WriteIssue(is); err != nil {
				return err
			}
		}
		return nil
	}

	fmt.Printf("Detected %d issues (%d total including crawl checks)\n\n", n, len(found))
	for _, is := range found {
		fmt.Printf("  [%-8s] %s: %s\n", is.Severity, is.Type, is.Message)
		if is.Context != "" {
			fmt.Printf("             %s\n", is.Context)
		}
	}
	return nil
}

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [crawl-id]",
		Short: "Write the JSON audit report of a stored crawl",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), config)
			if err != nil {
				return err
			}
			defer st.Close()

			if outputFile == "" {
				report, err := output.Build(cmd.Context(), st, args[0])
				if err != nil {
					return err
				}
				return output.NewJSONWriter(os.Stdout, pretty, false).WriteReport(report)
			}
			return writeReport(cmd.Context(), st, args[0], outputFile)
		},
	}
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	cmd.Flags().BoolVar(&pretty, "pretty", true, "Indent the JSON report")
	return cmd
}

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Fail crawls that stopped making progress",
		RunE:  runMonitor,
	}
	cmd.Flags().BoolVar(&monitorOnce, "once", false, "Run a single check and exit")
	return cmd
}

func newMonitor(config *crawler.Config, st monitor.Store) *monitor.Monitor {
	return monitor.New(st, monitor.Config{
		RunningTimeout: config.Monitor.RunningTimeout,
		QueuedTimeout:  config.Monitor.QueuedTimeout,
	}, newLogger(config))
}

func runMonitor(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(config)

	h := shutdown.New(shutdown.Config{Logger: log})
	defer h.Stop()
	go h.Wait()
	ctx := h.Context()

	st, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	m := newMonitor(config, st)
	if monitorOnce {
		failed, err := m.Check(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d stale crawls as failed\n", len(failed))
		for _, id := range failed {
			fmt.Printf("  %s\n", id)
		}
		return nil
	}

	log.Infof("Checking for stale crawls every %s", config.Monitor.Interval)
	if err := m.Run(ctx, config.Monitor.Interval); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run queued crawls from the store until signalled",
		Long: `Run the worker pool over queued and pending crawls in the store, the stale
crawl monitor and a Prometheus /metrics endpoint.`,
		RunE: runServe,
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Address of the metrics endpoint (empty disables it)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "Crawls run at once (default from config)")
	cmd.Flags().BoolVar(&noRender, "no-render", false, "Never render pages in a browser")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	config, err := loadConfig()
	if err != nil {
		return err
	}
	if concurrency > 0 {
		config.Workers.Concurrency = concurrency
	}
	log := newLogger(config)

	h := shutdown.New(shutdown.Config{Logger: log})
	defer h.Stop()
	ctx := h.Context()

	st, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	h.RegisterCloser("store", st)

	var opts []crawler.Option
	if !noRender {
		// One browser pool is shared by every crawl.
		pool := browser.NewPool(config.Browser)
		h.RegisterCloser("browser", pool)
		opts = append(opts, crawler.WithRenderer(pool))
	}

	runner, err := worker.New(st, worker.Config{
		Crawler: config,
		Logger:  log,
		Options: opts,
	})
	if err != nil {
		return err
	}

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", runner.Metrics().Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintln(w, "ok")
		})
		server := &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		h.RegisterServer("metrics", server)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("Metrics server failed")
			}
		}()
		log.Infof("Serving metrics on %s", metricsAddr)
	}

	pool, err := worker.NewPool(ctx, runner, config.Workers.Concurrency)
	if err != nil {
		return err
	}
	h.RegisterStopper("workers", pool)

	go pool.Poll(ctx, config.Workers.PollInterval)
	go newMonitor(config, st).Run(ctx, config.Monitor.Interval)

	log.Infof("Running up to %d crawls at once", config.Workers.Concurrency)
	h.Wait()
	<-h.Done()

	return errors.Join(h.Errors()...)
}

func newBlacklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blacklist",
		Short: "Inspect the domain blacklist",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check [url]",
		Short: "Report whether a URL is blacklisted",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			bl := scope.NewBlacklist(config.Blacklist.Custom...)
			if blocked, reason := bl.Check(args[0]); blocked {
				fmt.Printf("%s is blacklisted (%s)\n", args[0], reason)
				return nil
			}
			fmt.Printf("%s is allowed\n", args[0])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show blacklist sizes per category",
		RunE: func(cmd *cobra.Command, args []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			stats := scope.NewBlacklist(config.Blacklist.Custom...).Stats()
			names := make([]string, 0, len(stats))
			for name := range stats {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  %-16s %d\n", name, stats[name])
			}
			return nil
		},
	})

	return cmd
}
