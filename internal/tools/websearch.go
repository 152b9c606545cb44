package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// =============================================================================
// WEB SEARCH TOOL
// =============================================================================

const searchEndpoint = "https://html.duckduckgo.com/html/"

// WebSearchTool queries the DuckDuckGo HTML endpoint and returns the top
// results. Result text is untrusted; the prompt builder fences it before it
// reaches the model.
func WebSearchTool() *Tool {
	return &Tool{
		Name:        "web-search",
		Description: "Search the web and return the top results with snippets",
		Schema: Schema{
			Required: []string{"query"},
			Properties: map[string]Property{
				"query": {Type: "string", Description: "The search query"},
			},
		},
		Run: runWebSearch,
	}
}

type searchResult struct {
	Title   string
	URL     string
	Snippet string
}

func runWebSearch(ctx context.Context, env *Env, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("%w: empty query", ErrInvalidArgs)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		searchEndpoint+"?q="+url.QueryEscape(query), nil)
	if err != nil {
		return "", fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; localpilot/0.1)")

	client := env.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse search response: %w", err)
	}

	results := extractResults(doc, 5)
	if len(results) == 0 {
		return "no results found", nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return b.String(), nil
}

// extractResults walks the parsed document collecting result links
// (class result__a) and their snippets (class result__snippet).
func extractResults(doc *html.Node, limit int) []searchResult {
	var results []searchResult
	var current *searchResult

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if len(results) >= limit && current == nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" {
			switch {
			case hasClass(n, "result__a"):
				if current != nil && len(results) < limit {
					results = append(results, *current)
				}
				current = &searchResult{
					Title: strings.TrimSpace(textContent(n)),
					URL:   cleanResultURL(attr(n, "href")),
				}
			case hasClass(n, "result__snippet"):
				if current != nil {
					current.Snippet = strings.TrimSpace(textContent(n))
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	if current != nil && len(results) < limit {
		results = append(results, *current)
	}
	return results
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attr(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// cleanResultURL unwraps DuckDuckGo's redirect links (//duckduckgo.com/l/?uddg=<encoded>).
func cleanResultURL(href string) string {
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	return href
}
