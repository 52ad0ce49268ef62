package source

import (
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleListing = `<!DOCTYPE html>
<html><body>
<div class="art-list-item">
  <h2 class="art-list-item-title"><a href="/article/10.1088/1361-648X/ad1234">Spin  dynamics in
    kagome antiferromagnets</a></h2>
  <p class="art-list-item-meta"><span class="authors">A. Author, B. Author and C. Author</span>
    Published 12 March 2025</p>
  <div class="article-text">We report inelastic neutron scattering.</div>
</div>
<div class="art-list-item">
  <h2 class="art-list-item-title"><a href="https://iopscience.iop.org/article/10.1088/old">Old result</a></h2>
  <p class="art-list-item-meta">Published 1 January 2020</p>
</div>
<div class="art-list-item">
  <h2 class="art-list-item-title"><a href="/article/10.1088/nodate">Undated item</a></h2>
  <p class="art-list-item-meta">Published recently</p>
</div>
<div class="art-list-item">
  <p class="art-list-item-meta">Published 12 March 2025</p>
</div>
</body></html>`

func newTestListing(ts *httptest.Server) *ListingSource {
	s := NewListingSource("iop", ts.URL+"/nsearch", Selectors{}, time.Second)
	s.client = ts.Client()
	return s
}

func TestListingFetchParsesItems(t *testing.T) {
	var gotQuery map[string][]string
	var gotUA string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(sampleListing))
	}))
	defer ts.Close()

	since := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	res, err := newTestListing(ts).Fetch(context.Background(), "kagome", since)
	require.NoError(t, err)

	assert.Equal(t, []string{"kagome"}, gotQuery["terms"])
	assert.Equal(t, []string{"publishDate"}, gotQuery["sort"])
	assert.Contains(t, gotUA, "Mozilla/5.0")

	require.Len(t, res.Papers, 1)
	assert.Equal(t, 1, res.Skipped)
	require.Len(t, res.Invalid, 2)
	assert.True(t, errors.Is(res.Invalid[0], ErrBadDate))
	assert.True(t, errors.Is(res.Invalid[1], ErrMissingField))

	p := res.Papers[0]
	assert.Equal(t, "iop:10.1088/1361-648X/ad1234", p.ID)
	assert.Equal(t, "Spin dynamics in kagome antiferromagnets", p.Title)
	assert.Equal(t, ts.URL+"/article/10.1088/1361-648X/ad1234", p.Link)
	assert.Equal(t, "We report inelastic neutron scattering.", p.Summary)
	assert.Equal(t, []string{"A. Author", "B. Author", "C. Author"}, p.Authors)
	assert.Equal(t, time.Date(2025, 3, 12, 0, 0, 0, 0, time.UTC), p.PublishedAt)
	assert.Equal(t, "iop", p.SourceTag)
}

func TestListingFetchDecodesGzip(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		gz.Write([]byte(sampleListing))
		gz.Close()
	}))
	defer ts.Close()

	res, err := newTestListing(ts).Fetch(context.Background(), "kagome", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, res.Papers, 1)
}

func TestListingSameDayPaperPassesSubDayWindow(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleListing))
	}))
	defer ts.Close()

	// 09:00 on the publication day with a one hour window.
	since := time.Date(2025, 3, 12, 8, 0, 0, 0, time.UTC)
	res, err := newTestListing(ts).Fetch(context.Background(), "kagome", since)
	require.NoError(t, err)
	require.Len(t, res.Papers, 1)
	assert.Equal(t, "iop:10.1088/1361-648X/ad1234", res.Papers[0].ID)

	res, err = newTestListing(ts).Fetch(context.Background(), "kagome", since.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, res.Papers, "the previous day is still too old")
}

func TestListingFetchFailureIsSwallowed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer ts.Close()

	res, err := newTestListing(ts).Fetch(context.Background(), "kagome", time.Time{})
	require.NoError(t, err)
	assert.Empty(t, res.Papers)
}

func TestParseListingDate(t *testing.T) {
	got, err := parseListingDate("Published 3 November 2024 • © 2024 IOP")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 11, 3, 0, 0, 0, 0, time.UTC), got)

	_, err = parseListingDate("Nov 3, 2024")
	assert.ErrorIs(t, err, ErrBadDate)
}

func TestListingID(t *testing.T) {
	assert.Equal(t, "10.1088/abc", listingID("https://iopscience.iop.org/article/10.1088/abc"))
	assert.Equal(t, "https://example.com/x", listingID("https://example.com/x"))
}
