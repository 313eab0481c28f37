package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/app"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

const shutdownTimeout = 10 * time.Second

// newCrawlCmd creates the 'crawl' subcommand.
func newCrawlCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a site starting from url",
		Long: `Crawl visits url and every page on the same host reachable from it.
Links to other hosts are reported but not followed. The exit status is 0 when
the whole site was crawled, 3 when a page or time limit (or a signal) stopped
the crawl early and 1 when the crawl could not start.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runCrawl(cmd, args[0])
		},
	}

	flags := cmd.Flags()
	flags.StringP("output", "o", "", "write the report to this file instead of stdout")
	flags.StringP("format", "f", "text", "report format: text or jsonl")
	flags.BoolP("hide-links", "l", false, "print only page URLs")
	flags.IntP("max-concurrency", "c", 64, "maximum concurrent requests")
	flags.Int("per-domain-concurrency", 2, "maximum concurrent requests per site")
	flags.DurationP("max-time", "m", 0, "stop the crawl after this long (0 = no limit)")
	flags.IntP("max-pages", "p", 0, "stop after dispatching this many pages (0 = no limit)")
	flags.BoolP("ignore-robots", "i", false, "do not fetch or honour robots.txt")
	flags.Duration("delay", 0, "minimum delay between requests to one site")
	flags.String("user-agent", "", "User-Agent header and robots.txt product token")
	flags.Int("max-retries", 5, "retries for transient failures")
	flags.String("server-addr", "", "serve status and metrics on this address")
	flags.String("postgres-dsn", "", "store results in this Postgres database")

	for key, name := range map[string]string{
		"output.path":                    "output",
		"output.format":                  "format",
		"output.hide_links":              "hide-links",
		"crawler.max_concurrency":        "max-concurrency",
		"crawler.per_domain_concurrency": "per-domain-concurrency",
		"crawler.max_time":               "max-time",
		"crawler.max_pages":              "max-pages",
		"crawler.ignore_robots":          "ignore-robots",
		"crawler.delay":                  "delay",
		"crawler.user_agent":             "user-agent",
		"retry.max_retries":              "max-retries",
		"server.addr":                    "server-addr",
		"postgres.dsn":                   "postgres-dsn",
	} {
		mustBind(c.v, key, flags.Lookup(name))
	}
	return cmd
}

func (c *cli) runCrawl(cmd *cobra.Command, seed string) error {
	c.v.Set("crawler.seed", seed)
	cfg, err := config.Load(c.v)
	if err != nil {
		return &exitError{code: ExitStartupError, err: fmt.Errorf("invalid configuration: %w", err)}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, c.logger, app.Options{Stdout: cmd.OutOrStdout()})
	if err != nil {
		return &exitError{code: ExitStartupError, err: fmt.Errorf("start crawl: %w", err)}
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if cerr := a.Close(closeCtx); cerr != nil {
			c.logger.Warn("shutdown incomplete", zap.Error(cerr))
		}
	}()

	sum, err := a.Run(ctx)
	if err != nil {
		return &exitError{code: ExitStartupError, err: err}
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "%d pages (%d ok, %d skipped, %d failed) in %s: %s\n",
		sum.Pages, sum.Succeeded, sum.Skipped, sum.Failed, sum.Elapsed.Round(time.Millisecond), sum.Reason)
	if sum.Outcome() == crawler.OutcomeTruncated {
		return &exitError{code: ExitTruncated}
	}
	return nil
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", key, err))
	}
}
