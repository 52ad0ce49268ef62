package source

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Paper is a discovered literature item. ID is namespaced by source
// ("arxiv:2401.01234", "iop:10.1088/...") and never derived from content.
type Paper struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Link        string    `json:"link"`
	PDFLink     string    `json:"pdf_link,omitempty"`
	PublishedAt time.Time `json:"published_at"`
	Authors     []string  `json:"authors"`
	Categories  []string  `json:"categories"`

	// SourceTag labels the topic or adapter that produced the paper.
	SourceTag string `json:"source_tag"`
	// MatchedKeyword is the first configured keyword found in the title or
	// abstract, empty when none matched.
	MatchedKeyword string `json:"matched_keyword,omitempty"`

	// RenderedSummary is filled in by the summarizer, empty before that.
	RenderedSummary string `json:"rendered_summary,omitempty"`
}

// Source fetches papers published since a cutoff for one query string.
type Source interface {
	Name() string
	Fetch(ctx context.Context, query string, since time.Time) (Result, error)
}

// Per-item outcomes. ErrTooOld is a skip, the others are parse failures.
var (
	ErrMissingField = errors.New("missing required field")
	ErrBadDate      = errors.New("unparseable publish date")
	ErrTooOld       = errors.New("published before window")
)

// Result is the outcome of one fetch: the papers that parsed, how many
// fell outside the window, and one error per item that failed to parse.
type Result struct {
	Papers  []Paper
	Skipped int
	Invalid []error
}

// add files a single item outcome into the right bucket.
func (r *Result) add(p Paper, err error) {
	switch {
	case err == nil:
		r.Papers = append(r.Papers, p)
	case errors.Is(err, ErrTooOld):
		r.Skipped++
	default:
		r.Invalid = append(r.Invalid, err)
	}
}

// collapseSpace joins runs of whitespace (feeds wrap titles across lines).
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
