package source

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/ryosukesatoh/paperwatch/internal/logger"
)

// Selectors locate the parts of one search-result item.
type Selectors struct {
	Item     string `yaml:"item"`
	Title    string `yaml:"title"`
	Abstract string `yaml:"abstract"`
	Date     string `yaml:"date"`
	Authors  string `yaml:"authors"`
}

// DefaultSelectors match the IOPscience search listing.
func DefaultSelectors() Selectors {
	return Selectors{
		Item:     ".art-list-item",
		Title:    ".art-list-item-title a",
		Abstract: ".article-text",
		Date:     ".art-list-item-meta",
		Authors:  ".art-list-item-meta .authors",
	}
}

var listingDateRe = regexp.MustCompile(`\b(\d{1,2}) (January|February|March|April|May|June|July|August|September|October|November|December) (\d{4})\b`)

var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Accept-Encoding": "gzip",
	"Connection":      "keep-alive",
}

// ListingSource scrapes an HTML search-results page. Its layout is not
// under our control, so every failure stays inside Fetch.
type ListingSource struct {
	name      string
	client    *http.Client
	baseURL   string
	selectors Selectors
	log       *logger.Logger
}

// NewListingSource returns a scraper for baseURL. name doubles as the ID
// namespace and the source tag.
func NewListingSource(name, baseURL string, sel Selectors, timeout time.Duration) *ListingSource {
	if name == "" {
		name = "iop"
	}
	if baseURL == "" {
		baseURL = "https://iopscience.iop.org/nsearch"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	def := DefaultSelectors()
	if sel.Item == "" {
		sel.Item = def.Item
	}
	if sel.Title == "" {
		sel.Title = def.Title
	}
	if sel.Abstract == "" {
		sel.Abstract = def.Abstract
	}
	if sel.Date == "" {
		sel.Date = def.Date
	}
	if sel.Authors == "" {
		sel.Authors = def.Authors
	}
	return &ListingSource{
		name:      name,
		client:    &http.Client{Timeout: timeout},
		baseURL:   baseURL,
		selectors: sel,
		log:       logger.Named("listing"),
	}
}

func (s *ListingSource) Name() string { return s.name }

// Fetch never returns an error: network and HTTP failures are logged and
// produce an empty result.
func (s *ListingSource) Fetch(ctx context.Context, terms string, since time.Time) (Result, error) {
	doc, err := s.fetchDocument(ctx, terms)
	if err != nil {
		s.log.Warn().Err(err).Str("terms", terms).Msg("listing fetch failed")
		return Result{}, nil
	}
	return s.parseDocument(doc, since), nil
}

func (s *ListingSource) fetchDocument(ctx context.Context, terms string) (*goquery.Document, error) {
	params := url.Values{}
	params.Set("terms", terms)
	params.Set("sort", "publishDate")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("listing: failed to create request: %w", err)
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("listing: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("listing: unexpected status %d", resp.StatusCode)
	}

	// Setting Accept-Encoding ourselves turns off transparent decompression.
	var body io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("listing: bad gzip body: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("listing: parse HTML failed: %w", err)
	}
	return doc, nil
}

func (s *ListingSource) parseDocument(doc *goquery.Document, since time.Time) Result {
	var res Result
	doc.Find(s.selectors.Item).Each(func(_ int, item *goquery.Selection) {
		res.add(s.parseItem(item, since))
	})
	if len(res.Invalid) > 0 {
		s.log.Debug().Int("invalid", len(res.Invalid)).Int("parsed", len(res.Papers)).Msg("listing items skipped")
	}
	return res
}

func (s *ListingSource) parseItem(item *goquery.Selection, since time.Time) (Paper, error) {
	anchor := item.Find(s.selectors.Title).First()
	title := collapseSpace(anchor.Text())
	href, _ := anchor.Attr("href")
	if title == "" || strings.TrimSpace(href) == "" {
		return Paper{}, fmt.Errorf("listing item: title/link: %w", ErrMissingField)
	}
	link := resolveURL(s.baseURL, href)
	if link == "" {
		return Paper{}, fmt.Errorf("listing item %q: link: %w", title, ErrMissingField)
	}

	dateText := item.Find(s.selectors.Date).Text()
	if dateText == "" {
		dateText = item.Text()
	}
	published, err := parseListingDate(dateText)
	if err != nil {
		return Paper{}, fmt.Errorf("listing item %q: %w", title, err)
	}
	// Listing dates carry no time of day, so compare whole UTC days.
	if published.Before(since.UTC().Truncate(24 * time.Hour)) {
		return Paper{}, ErrTooOld
	}

	p := Paper{
		ID:          s.name + ":" + listingID(link),
		Title:       title,
		Summary:     collapseSpace(item.Find(s.selectors.Abstract).First().Text()),
		Link:        link,
		PublishedAt: published,
		Authors:     []string{},
		Categories:  []string{},
		SourceTag:   s.name,
	}
	if authors := collapseSpace(item.Find(s.selectors.Authors).First().Text()); authors != "" {
		for _, a := range strings.Split(strings.ReplaceAll(authors, " and ", ","), ",") {
			if a = strings.TrimSpace(a); a != "" {
				p.Authors = append(p.Authors, a)
			}
		}
	}
	return p, nil
}

// parseListingDate finds a "D Month YYYY" date anywhere in text.
func parseListingDate(text string) (time.Time, error) {
	m := listingDateRe.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, ErrBadDate
	}
	t, err := time.ParseInLocation("2 January 2006", m[0], time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%q: %w", m[0], ErrBadDate)
	}
	return t, nil
}

// listingID prefers the DOI embedded in article links.
func listingID(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return link
	}
	if i := strings.Index(u.Path, "/article/"); i >= 0 {
		if doi := strings.Trim(u.Path[i+len("/article/"):], "/"); doi != "" {
			return doi
		}
	}
	return link
}

func resolveURL(base, href string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ""
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	return b.ResolveReference(h).String()
}
