package runner

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryosukesatoh/paperwatch/internal/notifier"
	"github.com/ryosukesatoh/paperwatch/internal/query"
	"github.com/ryosukesatoh/paperwatch/internal/source"
	"github.com/ryosukesatoh/paperwatch/internal/store"
)

const day = 24 * time.Hour

var testNow = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

// Mock implementations

type mockSource struct {
	byWindow map[time.Duration][]source.Paper
}

func (m *mockSource) Name() string { return "arxiv" }

func (m *mockSource) Fetch(_ context.Context, _ string, since time.Time) (source.Result, error) {
	return source.Result{Papers: m.byWindow[testNow.Sub(since)]}, nil
}

type mockStore struct {
	initial store.Set
	loadErr error
	saveErr error
	saves   [][]string
}

func (m *mockStore) Load(context.Context) (store.Set, error) {
	if m.initial == nil {
		return store.NewSet(), m.loadErr
	}
	return m.initial.Clone(), m.loadErr
}

func (m *mockStore) Save(_ context.Context, ids store.Set) error {
	m.saves = append(m.saves, ids.Sorted())
	return m.saveErr
}

func (m *mockStore) Close() error { return nil }

type mockGateway struct{ calls int }

func (m *mockGateway) Summarize(_ context.Context, raw string) string {
	m.calls++
	return "摘要(" + raw + ")"
}

type mockNotifier struct {
	name string
	msgs []notifier.Message
	err  error
}

func (m *mockNotifier) Name() string { return m.name }

func (m *mockNotifier) Notify(_ context.Context, msg notifier.Message) error {
	m.msgs = append(m.msgs, msg)
	return m.err
}

func samplePaper(id string) source.Paper {
	return source.Paper{
		ID:          id,
		Title:       "Paper " + id,
		Summary:     "abstract " + id,
		Link:        "http://arxiv.org/abs/" + id,
		PDFLink:     "http://arxiv.org/pdf/" + id,
		PublishedAt: time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC),
		Authors:     []string{"A", "B", "C", "D"},
		Categories:  []string{"cond-mat.str-el"},
	}
}

func newOptions(src *mockSource, st *mockStore, notifiers ...notifier.Notifier) Options {
	return Options{
		Feed:      src,
		Topics:    []query.Topic{{Name: "kagome", Queries: []string{`all:"kagome"`}, TargetCount: 5}},
		Windows:   []time.Duration{7 * day, 30 * day},
		Store:     st,
		Gateway:   &mockGateway{},
		Notifiers: notifiers,
		Now:       func() time.Time { return testNow },
	}
}

func TestRunDeliversAndPersists(t *testing.T) {
	src := &mockSource{byWindow: map[time.Duration][]source.Paper{
		30 * day: {samplePaper("2505.00001"), samplePaper("2505.00002")},
	}}
	st := &mockStore{initial: store.NewSet("old")}
	n := &mockNotifier{name: "mock"}

	rep, err := New(newOptions(src, st, n)).Run(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 30*day, rep.Window)
	assert.Equal(t, "found", rep.State)
	assert.Len(t, rep.Papers, 2)
	assert.Equal(t, 2, rep.Delivered)
	assert.Zero(t, rep.Failed)

	require.Len(t, n.msgs, 2)
	msg := n.msgs[0]
	assert.Equal(t, "Paper 2505.00001", msg.Title)
	assert.Equal(t, "kagome", msg.Tag)
	assert.Equal(t, "http://arxiv.org/abs/2505.00001", msg.Link)
	assert.Contains(t, msg.Body, "作者: A, B, C et al.")
	assert.Contains(t, msg.Body, "发布日期: 2025-05-20")
	assert.Contains(t, msg.Body, "分类: cond-mat.str-el")
	assert.Contains(t, msg.Body, "摘要: 摘要(abstract 2505.00001)")
	assert.Contains(t, msg.Body, "PDF: http://arxiv.org/pdf/2505.00001")

	// two incremental saves plus the final one
	require.Len(t, st.saves, 3)
	assert.Equal(t, []string{"2505.00001", "old"}, st.saves[0])
	assert.Equal(t, []string{"2505.00001", "2505.00002", "old"}, st.saves[2])
}

func TestRunEndPersistence(t *testing.T) {
	src := &mockSource{byWindow: map[time.Duration][]source.Paper{7 * day: {samplePaper("1")}}}
	st := &mockStore{}
	opts := newOptions(src, st, &mockNotifier{name: "mock"})
	opts.Persist = PersistEnd

	_, err := New(opts).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"1"}}, st.saves)
}

func TestRunNotifierFailureIsNotFatal(t *testing.T) {
	src := &mockSource{byWindow: map[time.Duration][]source.Paper{7 * day: {samplePaper("1"), samplePaper("2")}}}
	st := &mockStore{}
	bad := &mockNotifier{name: "bad", err: errors.New("feishu: code 19021")}
	good := &mockNotifier{name: "good"}

	rep, err := New(newOptions(src, st, bad, good)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Delivered, "a paper counts once if any notifier accepted it")
	assert.Zero(t, rep.Failed)
	assert.Len(t, good.msgs, 2, "later papers and notifiers still run")
	assert.Equal(t, []string{"1", "2"}, st.saves[len(st.saves)-1])
}

func TestRunCountsPapersNotSends(t *testing.T) {
	papers := map[time.Duration][]source.Paper{7 * day: {samplePaper("1"), samplePaper("2")}}

	a, b := &mockNotifier{name: "a"}, &mockNotifier{name: "b"}
	rep, err := New(newOptions(&mockSource{byWindow: papers}, &mockStore{}, a, b)).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Delivered)
	assert.Zero(t, rep.Failed)
	assert.Len(t, a.msgs, 2)
	assert.Len(t, b.msgs, 2)

	down := errors.New("webhook down")
	x, y := &mockNotifier{name: "x", err: down}, &mockNotifier{name: "y", err: down}
	rep, err = New(newOptions(&mockSource{byWindow: papers}, &mockStore{}, x, y)).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, rep.Delivered)
	assert.Equal(t, 2, rep.Failed)
}

func TestRunSkipsKnownPapers(t *testing.T) {
	src := &mockSource{byWindow: map[time.Duration][]source.Paper{
		7 * day:  {samplePaper("seen")},
		30 * day: {samplePaper("seen"), samplePaper("new")},
	}}
	n := &mockNotifier{name: "mock"}

	rep, err := New(newOptions(src, &mockStore{initial: store.NewSet("seen")}, n)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 30*day, rep.Window)
	require.Len(t, n.msgs, 1)
	assert.Equal(t, "Paper new", n.msgs[0].Title)
}

func TestRunNoPapers(t *testing.T) {
	st := &mockStore{initial: store.NewSet("old")}
	n := &mockNotifier{name: "mock"}

	rep, err := New(newOptions(&mockSource{}, st, n)).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "exhausted", rep.State)
	assert.Empty(t, rep.Papers)
	assert.Empty(t, n.msgs, "no message unless notify_empty")
	assert.Equal(t, [][]string{{"old"}}, st.saves)
}

func TestRunNotifyEmpty(t *testing.T) {
	n := &mockNotifier{name: "mock"}
	opts := newOptions(&mockSource{}, &mockStore{}, n)
	opts.NotifyEmpty = true

	rep, err := New(opts).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0].Body, "7d, 30d")
	assert.Zero(t, rep.Delivered)
	assert.Zero(t, rep.Failed)
}

func TestRunDigestMode(t *testing.T) {
	src := &mockSource{byWindow: map[time.Duration][]source.Paper{7 * day: {samplePaper("1"), samplePaper("2")}}}
	st := &mockStore{}
	n := &mockNotifier{name: "mock"}
	opts := newOptions(src, st, n)
	opts.Mode = ModeDigest

	rep, err := New(opts).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0].Title, "2 篇新论文 (7d)")
	assert.Contains(t, n.msgs[0].Body, "1. [kagome] Paper 1")
	assert.Contains(t, n.msgs[0].Body, "2. [kagome] Paper 2")
	assert.Equal(t, 2, rep.Delivered)
	assert.Len(t, st.saves, 2)
}

func TestRunMatchedKeyword(t *testing.T) {
	hit := samplePaper("1")
	hit.Title = "Flat bands in a kagome metal"
	miss := samplePaper("2")
	src := &mockSource{byWindow: map[time.Duration][]source.Paper{7 * day: {hit, miss}}}
	n := &mockNotifier{name: "mock"}
	opts := newOptions(src, &mockStore{}, n)
	opts.Topics[0].Keywords = []string{"kagome"}
	opts.Topics[0].Strict = true

	rep, err := New(opts).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, rep.Papers, 1)
	assert.Equal(t, "kagome", rep.Papers[0].MatchedKeyword)
	require.Len(t, n.msgs, 1)
	assert.Contains(t, n.msgs[0].Body, "关键词: kagome")
}

func TestDigestGroupsByKeyword(t *testing.T) {
	a := samplePaper("a")
	a.SourceTag, a.MatchedKeyword = "kagome", "flat band"
	b := samplePaper("b")
	b.SourceTag, b.MatchedKeyword = "kagome", "kagome"
	c := samplePaper("c")
	c.SourceTag, c.MatchedKeyword = "kagome", "flat band"
	d := samplePaper("d")
	d.SourceTag = "iop"

	body := digestMessage([]source.Paper{a, b, c, d}, 7*day).Body

	flat := strings.Index(body, "== flat band (2) ==")
	kag := strings.Index(body, "== kagome (1) ==")
	iop := strings.Index(body, "== iop (1) ==")
	require.True(t, flat >= 0 && kag > flat && iop > kag, body)
	assert.True(t, strings.Index(body, "2. [kagome] Paper c") < kag, "same-keyword papers stay together")
	assert.Contains(t, body, "4. [iop] Paper d")
}

func TestRunLoadErrorContinues(t *testing.T) {
	src := &mockSource{byWindow: map[time.Duration][]source.Paper{7 * day: {samplePaper("1")}}}
	st := &mockStore{loadErr: store.ErrCorrupt}
	n := &mockNotifier{name: "mock"}

	_, err := New(newOptions(src, st, n)).Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, n.msgs, 1)
}

func TestRunFinalSaveErrorReturned(t *testing.T) {
	src := &mockSource{byWindow: map[time.Duration][]source.Paper{7 * day: {samplePaper("1")}}}
	st := &mockStore{saveErr: errors.New("disk full")}

	rep, err := New(newOptions(src, st, &mockNotifier{name: "mock"})).Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "disk full"))
	require.NotNil(t, rep)
	assert.Equal(t, 1, rep.Delivered)
}

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "A, B", formatAuthors([]string{"A", "B"}))
	assert.Equal(t, "A, B, C et al.", formatAuthors([]string{"A", "B", "C", "D"}))
	assert.Equal(t, "7d", formatWindow(7*day))
	assert.Equal(t, "12h0m0s", formatWindow(12*time.Hour))
}
