// Package cmd defines the sitecrawler command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/app"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/logging"
	pkgconfig "github.com/JakeFAU/sitecrawler/pkg/config"
)

// Exit codes reported by Execute.
const (
	ExitCompleted    = 0
	ExitStartupError = 1
	ExitTruncated    = 3
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

// crawlApp is the part of app.App the commands use. Tests swap newApp to
// inject a fake.
type crawlApp interface {
	Run(ctx context.Context) (crawler.Summary, error)
	Close(ctx context.Context) error
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (crawlApp, error) {
	return app.New(ctx, cfg, logger, opts)
}

// cli holds state shared between the root and its subcommands.
type cli struct {
	v       *viper.Viper
	cfgFile string
	logger  *zap.Logger
}

// newRootCmd creates the root command around v.
func newRootCmd(v *viper.Viper) *cobra.Command {
	c := &cli{v: v, logger: zap.NewNop()}
	cmd := &cobra.Command{
		Use:   "sitecrawler",
		Short: "Crawl every page of a single site.",
		Long: `sitecrawler starts from a seed URL and visits every page reachable on the
same host, printing each page and the links found on it. It honours
robots.txt, limits concurrency per site and backs off on transient errors.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			used, err := pkgconfig.InitConfig(c.v, c.cfgFile)
			if err != nil {
				return err
			}
			logger, err := logging.New(c.v.GetBool("logging.development"), c.v.GetString("logging.level"))
			if err != nil {
				return err
			}
			c.logger = logger
			if used != "" {
				logger.Debug("config file loaded", zap.String("path", used))
			}
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			_ = c.logger.Sync()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&c.cfgFile, "config", "", "config file (default is ./sitecrawler.yaml)")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.Bool("log-dev", false, "human readable development logging")
	mustBind(v, "logging.level", flags.Lookup("log-level"))
	mustBind(v, "logging.development", flags.Lookup("log-dev"))

	cmd.AddCommand(newCrawlCmd(c))
	return cmd
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	return execute(context.Background(), viper.New(), os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, v *viper.Viper, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(v)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitCompleted
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.err != nil {
			fmt.Fprintln(stderr, ee.err)
		}
		return ee.code
	}
	fmt.Fprintln(stderr, "Error:", err)
	return ExitStartupError
}
