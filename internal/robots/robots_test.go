package robots

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const agent = "sitecrawler/1.0 (+https://github.com/JakeFAU/sitecrawler)"

func TestRulesAllowed(t *testing.T) {
	body := []byte("User-agent: *\nDisallow: /private/\nAllow: /private/open\n\nUser-agent: sitecrawler\nDisallow: /bots-only\n")
	rules, err := Parse(http.StatusOK, body)
	require.NoError(t, err)

	tests := []struct {
		name  string
		path  string
		agent string
		want  bool
	}{
		{name: "wildcard group blocks private", path: "/private/x", agent: "otherbot", want: false},
		{name: "wildcard group allows public", path: "/public", agent: "otherbot", want: true},
		{name: "wildcard group honors allow", path: "/private/open", agent: "otherbot", want: true},
		{name: "named group matches user agent prefix", path: "/bots-only", agent: agent, want: false},
		{name: "named group replaces wildcard group", path: "/private/x", agent: agent, want: true},
		{name: "empty path means root", path: "", agent: agent, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Allowed(tt.path, tt.agent))
		})
	}
}

func TestRulesCrawlDelay(t *testing.T) {
	rules, err := Parse(http.StatusOK, []byte("User-agent: *\nCrawl-delay: 2\n"))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Second, rules.CrawlDelay(agent))

	none, err := Parse(http.StatusOK, []byte("User-agent: *\nDisallow:\n"))
	require.NoError(t, err)
	assert.Zero(t, none.CrawlDelay(agent))
}

func TestNilRulesAllowEverything(t *testing.T) {
	var rules *Rules
	assert.True(t, rules.Allowed("/anything", agent))
	assert.Zero(t, rules.CrawlDelay(agent))
}

func TestParseNotFoundAllowsAll(t *testing.T) {
	rules, err := Parse(http.StatusNotFound, nil)
	require.NoError(t, err)
	assert.True(t, rules.Allowed("/private/x", agent))
}
