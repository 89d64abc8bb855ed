package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/PentesterFlow/OpenAudit/internal/browser"
	"github.com/PentesterFlow/OpenAudit/internal/logger"
	"github.com/PentesterFlow/OpenAudit/internal/model"
	"github.com/PentesterFlow/OpenAudit/internal/output"
	"github.com/PentesterFlow/OpenAudit/internal/progress"
	"github.com/PentesterFlow/OpenAudit/internal/shutdown"
	"github.com/PentesterFlow/OpenAudit/internal/store"
	"github.com/PentesterFlow/OpenAudit/internal/worker"
	"github.com/PentesterFlow/OpenAudit/pkg/crawler"
)

var (
	// Policy flags
	maxPages           int
	maxDepth           int
	externalDepth      int
	maxRuntime         int
	rateLimit          float64
	followExternal     bool
	maxExternalDomains int
	respectRobots      bool
	jsRendering        bool
	userAgent          string
	crawlName          string

	// Output flags
	outputFile string
	pretty     bool
	noRender   bool
	noProgress bool
)

func newCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url]",
		Short: "Crawl and audit a site",
		Long:  "Crawl a target site, select its primary pages and detect SEO issues.",
		Args:  cobra.ExactArgs(1),
		RunE:  runCrawl,
	}

	def := model.DefaultPolicy()
	cmd.Flags().IntVarP(&maxPages, "max-pages", "m", def.MaxPages, "Maximum pages to crawl")
	cmd.Flags().IntVarP(&maxDepth, "max-depth", "d", def.MaxDepthInternal, "Maximum internal link depth")
	cmd.Flags().IntVar(&externalDepth, "external-depth", def.MaxDepthExternal, "Maximum depth of followed external links")
	cmd.Flags().IntVarP(&maxRuntime, "max-runtime", "t", def.MaxRuntimeSeconds, "Maximum crawl runtime in seconds")
	cmd.Flags().Float64VarP(&rateLimit, "rate-limit", "r", def.RateLimitRPS, "Requests per second (0 disables the limit)")
	cmd.Flags().BoolVar(&followExternal, "follow-external", def.FollowExternal, "Follow external links")
	cmd.Flags().IntVar(&maxExternalDomains, "max-external-domains", def.MaxExternalDomains, "Maximum distinct external domains to follow")
	cmd.Flags().BoolVar(&respectRobots, "respect-robots", def.RespectRobots, "Discover URLs from robots.txt sitemaps")
	cmd.Flags().BoolVar(&jsRendering, "js", def.JSRendering, "Render every page in headless Chrome")
	cmd.Flags().StringVar(&userAgent, "user-agent", "", "User agent")
	cmd.Flags().StringVar(&crawlName, "name", "", "Crawl name")

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Write the JSON audit report to a file")
	cmd.Flags().BoolVar(&pretty, "pretty", true, "Indent the JSON report")
	cmd.Flags().BoolVar(&noRender, "no-render", false, "Never render pages in a browser")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")

	return cmd
}

// applyPolicyFlags overrides policy with the flags set on cmd.
func applyPolicyFlags(cmd *cobra.Command, policy *model.Policy) {
	flags := cmd.Flags()
	if flags.Changed("max-pages") {
		policy.MaxPages = maxPages
	}
	if flags.Changed("max-depth") {
		policy.MaxDepthInternal = maxDepth
	}
	if flags.Changed("external-depth") {
		policy.MaxDepthExternal = externalDepth
	}
	if flags.Changed("max-runtime") {
		policy.MaxRuntimeSeconds = maxRuntime
	}
	if flags.Changed("rate-limit") {
		policy.RateLimitRPS = rateLimit
	}
	if flags.Changed("follow-external") {
		policy.FollowExternal = followExternal
	}
	if flags.Changed("max-external-domains") {
		policy.MaxExternalDomains = maxExternalDomains
	}
	if flags.Changed("respect-robots") {
		policy.RespectRobots = respectRobots
	}
	if flags.Changed("js") {
		policy.JSRendering = jsRendering
	}
	if userAgent != "" {
		policy.UserAgent = userAgent
	}
}

func runCrawl(cmd *cobra.Command, args []string) error {
	target := args[0]

	config, err := loadConfig()
	if err != nil {
		return err
	}

	// The progress bar and console logs share the terminal.
	enableProgress := !noProgress && !verbose && !debug
	if enableProgress {
		config.Log.Level = "warn"
	}
	log := newLogger(config)

	policy := config.Policy
	applyPolicyFlags(cmd, &policy)

	crawl, err := model.NewCrawl(target, policy)
	if err != nil {
		return err
	}
	crawl.Name = crawlName

	// An interrupt stops the crawl; the pages stored so far are still
	// finalized and reported.
	h := shutdown.New(shutdown.Config{Logger: log})
	defer h.Stop()
	go h.Wait()
	ctx := h.Context()

	st, err := openStore(ctx, config)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.CreateCrawl(ctx, crawl); err != nil {
		return fmt.Errorf("failed to create crawl: %w", err)
	}

	var opts []crawler.Option
	if !noRender {
		pool := browser.NewPool(config.Browser)
		defer pool.Close()
		opts = append(opts, crawler.WithRenderer(pool))
	}

	var display *progress.Display
	if enableProgress {
		display = progress.New()
		opts = append(opts, crawler.WithProgressDisplay(display))
	} else {
		printBanner(crawl)
	}

	runner, err := worker.New(st, worker.Config{
		Crawler: config,
		Logger:  log,
		Options: opts,
	})
	if err != nil {
		return err
	}

	out, runErr := runner.Run(ctx, crawl.ID)
	if out == nil {
		return runErr
	}

	// The summary and report are produced even after an interrupt.
	reportCtx := context.WithoutCancel(ctx)
	summary := progress.Summary{
		CrawlID: crawl.ID,
		Status:  out.Status,
		Issues:  severityCounts(reportCtx, st, crawl.ID, log),
	}
	if out.Result != nil {
		summary.PagesCrawled = out.Result.PagesCrawled
		summary.Primary = out.Result.PrimaryPages
		summary.Reason = string(out.Result.Reason)
	}
	if out.Deleted {
		summary.Status = "deleted"
	}
	if display == nil {
		display = progress.NewWriter(os.Stdout)
		display.Start(crawl.URL)
	}
	display.PrintSummary(summary)

	if outputFile != "" && !out.Deleted {
		if err := writeReport(reportCtx, st, crawl.ID, outputFile); err != nil {
			return err
		}
		fmt.Printf("Report written to %s\n", outputFile)
	}

	return runErr
}

func severityCounts(ctx context.Context, st store.Store, crawlID string, log *logger.Logger) map[model.Severity]int {
	counts := make(map[model.Severity]int)
	found, err := st.ListIssues(ctx, crawlID)
	if err != nil {
		log.WithError(err).Warn("Failed to load issues")
		return counts
	}
	for _, is := range found {
		counts[is.Severity]++
	}
	return counts
}

// writeReport writes the JSON audit report of crawlID to path.
func writeReport(ctx context.Context, st store.Store, crawlID, path string) error {
	report, err := output.Build(ctx, st, crawlID)
	if err != nil {
		return fmt.Errorf("failed to build report: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	w, err := output.NewWriter(f, output.Config{Format: "json", Pretty: pretty, FilePath: path})
	if err != nil {
		f.Close()
		return err
	}
	if err := w.WriteReport(report); err != nil {
		w.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return w.Close()
}

func printBanner(crawl *model.Crawl) {
	p := crawl.Policy
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                        OpenAudit v1.0                        ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("Target:     %s\n", crawl.URL)
	fmt.Printf("Crawl:      %s\n", crawl.ID)
	fmt.Printf("Max Pages:  %d\n", p.MaxPages)
	fmt.Printf("Max Depth:  %d internal, %d external\n", p.MaxDepthInternal, p.MaxDepthExternal)
	fmt.Printf("Rate Limit: %.1f req/s\n", p.RateLimitRPS)
	fmt.Printf("Runtime:    %s\n", p.Runtime().Round(time.Second))
	fmt.Println()
}
