package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sitecrawler/internal/app"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
)

type fakeApp struct {
	sum    crawler.Summary
	runErr error
	closed int
}

func (f *fakeApp) Run(context.Context) (crawler.Summary, error) { return f.sum, f.runErr }

func (f *fakeApp) Close(context.Context) error {
	f.closed++
	return nil
}

// withFakeApp swaps the app factory and records the config it was given.
func withFakeApp(t *testing.T, fake *fakeApp, newErr error) *config.Config {
	t.Helper()
	var got config.Config
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger, _ app.Options) (crawlApp, error) {
		got = cfg
		if newErr != nil {
			return nil, newErr
		}
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &got
}

func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), viper.New(), args, &stdout, &stderr)
	return code, stderr.String()
}

func TestCrawlCompleted(t *testing.T) {
	fake := &fakeApp{sum: crawler.Summary{Reason: crawler.StopExhausted, Pages: 3, Succeeded: 3}}
	cfg := withFakeApp(t, fake, nil)

	code, stderr := runCLI(t, "crawl", "https://example.com",
		"-p", "10", "-c", "8", "-m", "30s", "-i", "-l", "-f", "jsonl", "--delay", "100ms")

	assert.Equal(t, ExitCompleted, code)
	assert.Contains(t, stderr, "3 pages (3 ok, 0 skipped, 0 failed)")
	assert.Equal(t, 1, fake.closed)

	assert.Equal(t, "https://example.com", cfg.Crawler.Seed)
	assert.Equal(t, 10, cfg.Crawler.MaxPages)
	assert.Equal(t, 8, cfg.Crawler.MaxConcurrency)
	assert.Equal(t, 30*time.Second, cfg.Crawler.MaxTime)
	assert.Equal(t, 100*time.Millisecond, cfg.Crawler.MinDelay)
	assert.True(t, cfg.Crawler.IgnoreRobots)
	assert.True(t, cfg.Output.HideLinks)
	assert.Equal(t, "jsonl", cfg.Output.Format)
	assert.Equal(t, 2, cfg.Crawler.PerOriginConcurrency)
}

func TestCrawlTruncated(t *testing.T) {
	fake := &fakeApp{sum: crawler.Summary{Reason: crawler.StopMaxPages, Pages: 1}}
	withFakeApp(t, fake, nil)

	code, stderr := runCLI(t, "crawl", "https://example.com", "--max-pages", "1")
	assert.Equal(t, ExitTruncated, code)
	assert.Contains(t, stderr, "max_pages")
}

func TestCrawlStartupErrors(t *testing.T) {
	t.Run("invalid flag value", func(t *testing.T) {
		withFakeApp(t, &fakeApp{}, nil)
		code, _ := runCLI(t, "crawl", "https://example.com", "--max-concurrency", "0")
		assert.Equal(t, ExitStartupError, code)
	})
	t.Run("app fails to start", func(t *testing.T) {
		withFakeApp(t, &fakeApp{}, errors.New("bad seed"))
		code, stderr := runCLI(t, "crawl", "::nope")
		assert.Equal(t, ExitStartupError, code)
		assert.Contains(t, stderr, "bad seed")
	})
	t.Run("missing argument", func(t *testing.T) {
		withFakeApp(t, &fakeApp{}, nil)
		code, _ := runCLI(t, "crawl")
		assert.Equal(t, ExitStartupError, code)
	})
	t.Run("run error", func(t *testing.T) {
		fake := &fakeApp{runErr: errors.New("engine already running")}
		withFakeApp(t, fake, nil)
		code, _ := runCLI(t, "crawl", "https://example.com")
		assert.Equal(t, ExitStartupError, code)
		assert.Equal(t, 1, fake.closed)
	})
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	cfg := withFakeApp(t, &fakeApp{sum: crawler.Summary{Reason: crawler.StopExhausted}}, nil)
	t.Setenv("SITECRAWLER_CRAWLER_MAX_PAGES", "42")

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), viper.New(), []string{"crawl", "https://example.com"}, &stdout, &stderr)
	require.Equal(t, ExitCompleted, code, stderr.String())
	assert.Equal(t, 42, cfg.Crawler.MaxPages)
}
