package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed/atom"
)

const (
	arxivIDPrefix       = "arxiv:"
	arxivPublishedFmt   = "2006-01-02T15:04:05"
	arxivSubmittedRange = "200601021504"
)

// ArxivSource fetches papers from the arXiv Atom query API.
type ArxivSource struct {
	client     *http.Client
	baseURL    string
	userAgent  string
	maxResults int
	now        func() time.Time
}

// NewArxivSource returns a feed client. Zero values fall back to defaults.
func NewArxivSource(baseURL string, maxResults int, timeout time.Duration, userAgent string) *ArxivSource {
	if baseURL == "" {
		baseURL = "http://export.arxiv.org/api/query"
	}
	if maxResults <= 0 {
		maxResults = 20
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ArxivSource{
		client:     &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		userAgent:  userAgent,
		maxResults: maxResults,
		now:        time.Now,
	}
}

func (s *ArxivSource) Name() string { return "arxiv" }

// Fetch issues one request sorted by submission date and returns entries
// published at or after since.
func (s *ArxivSource) Fetch(ctx context.Context, query string, since time.Time) (Result, error) {
	var res Result

	params := url.Values{}
	params.Set("search_query", s.searchQuery(query, since))
	params.Set("start", "0")
	params.Set("max_results", strconv.Itoa(s.maxResults))
	params.Set("sortBy", "submittedDate")
	params.Set("sortOrder", "descending")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return res, fmt.Errorf("arxiv: failed to create request: %w", err)
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return res, fmt.Errorf("arxiv: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return res, fmt.Errorf("arxiv: unexpected status %d", resp.StatusCode)
	}

	feed, err := (&atom.Parser{}).Parse(resp.Body)
	if err != nil {
		return res, fmt.Errorf("arxiv: failed to parse feed: %w", err)
	}

	for _, entry := range feed.Entries {
		res.add(parseArxivEntry(entry, since))
	}
	return res, nil
}

// searchQuery restricts the query to the submission window. Entries are
// still checked against since after parsing.
func (s *ArxivSource) searchQuery(query string, since time.Time) string {
	if since.IsZero() {
		return query
	}
	return fmt.Sprintf("(%s) AND submittedDate:[%s TO %s]",
		query,
		since.UTC().Format(arxivSubmittedRange),
		s.now().UTC().Format(arxivSubmittedRange))
}

func parseArxivEntry(e *atom.Entry, since time.Time) (Paper, error) {
	id := extractArxivID(e.ID)
	if id == "" {
		return Paper{}, fmt.Errorf("arxiv entry: id: %w", ErrMissingField)
	}
	title := collapseSpace(e.Title)
	if title == "" {
		return Paper{}, fmt.Errorf("arxiv entry %s: title: %w", id, ErrMissingField)
	}
	published, err := parseArxivTime(e.Published)
	if err != nil {
		return Paper{}, fmt.Errorf("arxiv entry %s: %w", id, err)
	}
	if published.Before(since) {
		return Paper{}, ErrTooOld
	}

	p := Paper{
		ID:          arxivIDPrefix + id,
		Title:       title,
		Summary:     collapseSpace(e.Summary),
		PublishedAt: published,
		Authors:     []string{},
		Categories:  []string{},
	}
	for _, a := range e.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			p.Authors = append(p.Authors, name)
		}
	}
	for _, c := range e.Categories {
		if c.Term != "" {
			p.Categories = append(p.Categories, c.Term)
		}
	}
	for _, l := range e.Links {
		switch {
		case l.Title == "pdf":
			p.PDFLink = l.Href
		case l.Rel == "alternate" || (l.Rel == "" && p.Link == ""):
			p.Link = l.Href
		}
	}
	if p.Link == "" {
		p.Link = strings.TrimSpace(e.ID)
	}
	return p, nil
}

// parseArxivTime truncates to 19 characters and parses the result as UTC,
// dropping any zone suffix arXiv appends.
func parseArxivTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) < len(arxivPublishedFmt) {
		return time.Time{}, fmt.Errorf("%q: %w", s, ErrBadDate)
	}
	t, err := time.ParseInLocation(arxivPublishedFmt, s[:len(arxivPublishedFmt)], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %w", s, ErrBadDate)
	}
	return t, nil
}

// extractArxivID pulls the identifier out of the entry id URL and strips the
// version suffix, e.g. "http://arxiv.org/abs/2301.07041v2" -> "2301.07041".
func extractArxivID(idURL string) string {
	idURL = strings.TrimSpace(idURL)
	idx := strings.Index(idURL, "/abs/")
	if idx < 0 {
		return ""
	}
	id := idURL[idx+len("/abs/"):]
	if v := strings.LastIndex(id, "v"); v > 0 {
		if _, err := strconv.Atoi(id[v+1:]); err == nil {
			id = id[:v]
		}
	}
	return id
}
