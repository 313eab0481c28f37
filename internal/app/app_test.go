package app_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/JakeFAU/sitecrawler/internal/app"
	"github.com/JakeFAU/sitecrawler/internal/config"
	"github.com/JakeFAU/sitecrawler/internal/crawler"
	"github.com/JakeFAU/sitecrawler/internal/output"
)

// MockTransport mocks crawler.Transport.
type MockTransport struct {
	mock.Mock
}

// Get satisfies crawler.Transport.
func (m *MockTransport) Get(ctx context.Context, req crawler.Request) (crawler.Response, error) {
	args := m.Called(ctx, req.URL)
	return args.Get(0).(crawler.Response), args.Error(1)
}

func testConfig(seed string) config.Config {
	return config.Config{
		Crawler: crawler.Config{
			Seed:                 seed,
			UserAgent:            "sitecrawler-test",
			MaxConcurrency:       4,
			PerOriginConcurrency: 2,
			Retry:                crawler.RetryConfig{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxRetries: 1},
		},
		Transport: config.TransportConfig{RequestTimeout: 5 * time.Second, MaxBodyBytes: 1 << 20, MaxRedirects: 5},
		Output:    config.OutputConfig{Format: string(output.FormatJSONL)},
		Progress:  config.ProgressConfig{BufferSize: 64, MaxBatchEvents: 8, MaxBatchWait: 10 * time.Millisecond},
	}
}

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, "User-agent: *\nDisallow: /private\n")
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/about">About</a><a href="/private/x">P</a><a href="https://example.org/">Ext</a>`)
	})
	mux.HandleFunc("/about", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<a href="/">Home</a><a href="/missing">Missing</a>`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func decodeRecords(t *testing.T, buf *bytes.Buffer) map[string]output.Record {
	t.Helper()
	out := map[string]output.Record{}
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec output.Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		out[rec.URL] = rec
	}
	require.NoError(t, sc.Err())
	return out
}

func TestAppCrawlsSite(t *testing.T) {
	srv := newSite(t)
	var buf bytes.Buffer
	reg := prometheus.NewRegistry()

	a, err := app.New(context.Background(), testConfig(srv.URL), zaptest.NewLogger(t), app.Options{
		Stdout:   &buf,
		Registry: reg,
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, a.CrawlID())

	sum, err := a.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, crawler.StopExhausted, sum.Reason)
	assert.Equal(t, crawler.OutcomeCompleted, sum.Outcome())

	recs := decodeRecords(t, &buf)
	urls := make([]string, 0, len(recs))
	for u := range recs {
		urls = append(urls, strings.TrimPrefix(u, srv.URL))
	}
	sort.Strings(urls)
	assert.Equal(t, []string{"/", "/about", "/missing", "/private/x"}, urls)

	assert.Equal(t, string(crawler.StatusSuccess), recs[srv.URL+"/"].Status)
	assert.Equal(t, string(crawler.StatusSkipped), recs[srv.URL+"/private/x"].Status)
	assert.Equal(t, string(crawler.StatusFailed), recs[srv.URL+"/missing"].Status)
	assert.Equal(t, 404, recs[srv.URL+"/missing"].StatusCode)

	for _, l := range recs[srv.URL+"/"].Links {
		if l.URL == "https://example.org/" {
			assert.False(t, l.Followed)
			assert.False(t, l.InScope)
		}
	}

	assert.Equal(t, 1.0, counterValue(t, reg, "sitecrawler_crawls_started_total"))
	n, err := testutil.GatherAndCount(reg, "sitecrawler_pages_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// counterValue reads an unlabelled counter from reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestAppUsesInjectedTransport(t *testing.T) {
	tr := new(MockTransport)
	tr.On("Get", mock.Anything, "https://example.com/robots.txt").
		Return(crawler.Response{StatusCode: http.StatusOK, Body: []byte("User-agent: *\nDisallow: /\n")}, nil).Once()

	var buf bytes.Buffer
	cfg := testConfig("https://example.com")
	cfg.Output.Format = string(output.FormatText)
	id := uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057")

	a, err := app.New(context.Background(), cfg, nil, app.Options{Stdout: &buf, Transport: tr, CrawlID: id})
	require.NoError(t, err)
	assert.Equal(t, id, a.CrawlID())

	sum, err := a.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))

	assert.Equal(t, 1, sum.Skipped)
	assert.Equal(t, "https://example.com/ (skipped: robots.txt)\n", buf.String())
	tr.AssertExpectations(t)
}

func TestAppRejectsBadConfig(t *testing.T) {
	cfg := testConfig("mailto:someone@example.com")
	_, err := app.New(context.Background(), cfg, nil, app.Options{Stdout: &bytes.Buffer{}})
	require.Error(t, err)

	cfg = testConfig("https://example.com")
	cfg.Output.Format = "xml"
	_, err = app.New(context.Background(), cfg, nil, app.Options{Stdout: &bytes.Buffer{}})
	require.Error(t, err)
}
