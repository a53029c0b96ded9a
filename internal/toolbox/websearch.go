package toolbox

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// WebSearchTool performs an outbound DuckDuckGo HTML search, grounded on
// a DuckDuckGo HTML scrape, parsed with goquery's DOM
// traversal instead of hand-rolled regexes.
type WebSearchTool struct {
	client *http.Client
}

func NewWebSearchTool(timeout time.Duration) *WebSearchTool {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WebSearchTool{client: &http.Client{Timeout: timeout}}
}

func (WebSearchTool) Name() string { return "web_search" }
func (WebSearchTool) Description() string {
	return "Search the web and return a short list of title/url/snippet results"
}
func (WebSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string"},
			"count": map[string]interface{}{"type": "integer"},
		},
		"required": []string{"query"},
	}
}

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	query := argString(args, "query")
	if query == "" {
		return Err("query is required")
	}
	count := 5
	if c, ok := args["count"].(float64); ok && c > 0 {
		count = int(c)
	}

	searchURL := fmt.Sprintf("https://html.duckduckgo.com/html/?q=%s", url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return Err(fmt.Sprintf("build search request: %v", err))
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; noteforge-bot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return Err(fmt.Sprintf("search request failed: %v", err))
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Err(fmt.Sprintf("parse search results: %v", err))
	}

	var sb strings.Builder
	n := 0
	doc.Find(".result__body").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if n >= count {
			return false
		}
		link := s.Find("a.result__a")
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(s.Find(".result__snippet").Text())
		if title == "" || href == "" {
			return true
		}
		href = resolveDDGRedirect(href)
		sb.WriteString(strconv.Itoa(n+1) + ". " + title + "\n" + href + "\n" + snippet + "\n\n")
		n++
		return true
	})

	if n == 0 {
		return Ok("no results found")
	}
	return Ok(sb.String())
}

func resolveDDGRedirect(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if real := u.Query().Get("uddg"); real != "" {
		return real
	}
	return href
}
