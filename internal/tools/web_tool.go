package tools

import (
	"context"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

const (
	defaultUserAgent    = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	defaultMaxPageChars = 20000
)

// Searcher runs a web search and returns a text digest of the results.
// *duckduckgo.Tool implements it.
type Searcher interface {
	Call(ctx context.Context, query string) (string, error)
}

// WebTools implements the web_tool category: search and page reading,
// used when a plan needs information that is not in the mailbox.
type WebTools struct {
	Search    Searcher
	Client    *http.Client
	UserAgent string
	MaxChars  int
}

func NewWebTools() (*WebTools, error) {
	ddg, err := duckduckgo.New(10, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &WebTools{
		Search:    ddg,
		Client:    &http.Client{Timeout: 30 * time.Second},
		UserAgent: defaultUserAgent,
		MaxChars:  defaultMaxPageChars,
	}, nil
}

type SearchResults struct {
	Query   string `json:"query"`
	Results string `json:"results"`
}

func (w *WebTools) SearchWeb(ctx context.Context, query string) (SearchResults, error) {
	if strings.TrimSpace(query) == "" {
		return SearchResults{}, fmt.Errorf("Web search failed: query is empty")
	}
	res, err := w.Search.Call(ctx, query)
	if err != nil {
		return SearchResults{}, fmt.Errorf("Web search failed: %w", err)
	}
	return SearchResults{Query: query, Results: res}, nil
}

type Page struct {
	URL       string `json:"url"`
	Title     string `json:"title"`
	Excerpt   string `json:"excerpt,omitempty"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// ReadPage fetches rawURL and extracts its main content as plain text.
func (w *WebTools) ReadPage(ctx context.Context, rawURL string) (Page, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Page{}, fmt.Errorf("Page read failed: invalid URL %q", rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return Page{}, fmt.Errorf("Page read failed: %w", err)
	}
	ua := w.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return Page{}, fmt.Errorf("Page read failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("Page read failed: status code %d", resp.StatusCode)
	}

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return Page{}, fmt.Errorf("Page read failed: could not parse article: %w", err)
	}

	text := html.UnescapeString(bluemonday.StrictPolicy().Sanitize(article.TextContent))
	text = strings.Join(strings.Fields(text), " ")

	page := Page{URL: rawURL, Title: article.Title, Excerpt: article.Excerpt, Content: text}
	limit := w.MaxChars
	if limit <= 0 {
		limit = defaultMaxPageChars
	}
	if r := []rune(text); len(r) > limit {
		page.Content = string(r[:limit]) + "... (content truncated)"
		page.Truncated = true
	}
	return page, nil
}

func (w *WebTools) Functions() []Function {
	return []Function{
		{
			Name:        "search",
			Description: "Search the web with DuckDuckGo for current information",
			Params: []Param{
				{Name: "query", Type: "string", Description: "Search query", Required: true},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return w.SearchWeb(ctx, a.String("query"))
			},
		},
		{
			Name:        "read_page",
			Description: "Fetch a web page and extract its main content as plain text",
			Params: []Param{
				{Name: "url", Type: "string", Description: "Full http(s) URL of the page", Required: true},
			},
			Handler: func(ctx context.Context, a Args) (any, error) {
				return w.ReadPage(ctx, a.String("url"))
			},
		},
	}
}
