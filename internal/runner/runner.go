package runner

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ryosukesatoh/paperwatch/internal/aggregator"
	"github.com/ryosukesatoh/paperwatch/internal/logger"
	"github.com/ryosukesatoh/paperwatch/internal/notifier"
	"github.com/ryosukesatoh/paperwatch/internal/query"
	"github.com/ryosukesatoh/paperwatch/internal/source"
	"github.com/ryosukesatoh/paperwatch/internal/store"
	"github.com/ryosukesatoh/paperwatch/internal/summarizer"
)

// Delivery modes.
const (
	ModePaper  = "paper"
	ModeDigest = "digest"
)

// Persistence policies.
const (
	PersistIncremental = "incremental"
	PersistEnd         = "end"
)

const maxListedAuthors = 3

// Options wires one pipeline. Feed or Listing may be nil.
type Options struct {
	Feed         source.Source
	Listing      source.Source
	Topics       []query.Topic
	ScrapeTerms  []string
	StrictScrape bool
	Windows      []time.Duration

	Store     store.Store
	Gateway   summarizer.Gateway
	Notifiers []notifier.Notifier

	Mode        string
	Persist     string
	NotifyEmpty bool
	Now         func() time.Time
}

// Report summarizes one run.
type Report struct {
	RunID      string         `json:"run_id"`
	Window     time.Duration  `json:"window"`
	State      string         `json:"state"`
	Papers     []source.Paper `json:"papers"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	// Delivered counts papers that reached at least one notifier, Failed
	// those that reached none. The empty-run message counts toward neither.
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Runner orchestrates the load -> aggregate -> summarize -> notify -> persist pipeline.
type Runner struct {
	opts Options
}

func New(opts Options) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Mode == "" {
		opts.Mode = ModePaper
	}
	if opts.Persist == "" {
		opts.Persist = PersistIncremental
	}
	if opts.Gateway == nil {
		opts.Gateway = summarizer.FallbackGateway{}
	}
	return &Runner{opts: opts}
}

// Run executes the full pipeline once. Only a failed final save is returned
// as an error; the report is valid either way.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	rep := &Report{RunID: uuid.NewString(), StartedAt: r.opts.Now()}
	log := logger.Named("runner").With().Str("run_id", rep.RunID).Logger()
	log.Info().Int("topics", len(r.opts.Topics)).Int("scrape_terms", len(r.opts.ScrapeTerms)).Msg("starting run")

	known, err := r.opts.Store.Load(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not load delivered ids, starting empty")
	}
	if known == nil {
		known = store.NewSet()
	}
	persisted := known.Clone()
	log.Debug().Int("known", known.Len()).Msg("loaded delivered ids")

	ctrl := aggregator.New(aggregator.Options{
		Feed:         r.opts.Feed,
		Listing:      r.opts.Listing,
		Topics:       r.opts.Topics,
		ScrapeTerms:  r.opts.ScrapeTerms,
		StrictScrape: r.opts.StrictScrape,
		Windows:      r.opts.Windows,
		Now:          r.opts.Now,
	}, known)
	out := ctrl.Run(ctx)

	rep.Window = out.Window
	rep.State = out.State.String()
	rep.Papers = out.Papers

	if len(out.Papers) == 0 {
		log.Info().Int("passes", out.Passes).Msg("no new papers in any window")
		if r.opts.NotifyEmpty {
			r.deliver(ctx, log, r.emptyMessage())
		}
	} else {
		log.Info().Int("papers", len(out.Papers)).Str("window", formatWindow(out.Window)).Msg("papers found")
		r.summarize(ctx, log, out.Papers)

		switch r.opts.Mode {
		case ModeDigest:
			rep.count(r.deliver(ctx, log, digestMessage(out.Papers, out.Window)), len(out.Papers))
			for _, p := range out.Papers {
				persisted.Add(p.ID)
			}
			r.persist(ctx, log, persisted)
		default:
			for _, p := range out.Papers {
				rep.count(r.deliver(ctx, log.With().Str("paper_id", p.ID).Logger(), paperMessage(p)), 1)
				persisted.Add(p.ID)
				r.persist(ctx, log, persisted)
			}
		}
	}

	rep.FinishedAt = r.opts.Now()
	if err := r.opts.Store.Save(ctx, ctrl.Known()); err != nil {
		log.Error().Err(err).Msg("failed to save delivered ids")
		return rep, fmt.Errorf("runner: save state: %w", err)
	}
	log.Info().
		Int("delivered", rep.Delivered).
		Int("failed", rep.Failed).
		Dur("elapsed", rep.FinishedAt.Sub(rep.StartedAt)).
		Msg("run complete")
	return rep, nil
}

func (r *Runner) summarize(ctx context.Context, log logger.Logger, papers []source.Paper) {
	for i := range papers {
		papers[i].RenderedSummary = r.opts.Gateway.Summarize(ctx, papers[i].Summary)
		log.Debug().Str("paper_id", papers[i].ID).Msg("summarized")
	}
}

// deliver sends msg to every notifier and reports whether any accepted it.
// Failures are logged, never fatal.
func (r *Runner) deliver(ctx context.Context, log logger.Logger, msg notifier.Message) bool {
	ok := false
	for _, n := range r.opts.Notifiers {
		if err := n.Notify(ctx, msg); err != nil {
			log.Warn().Err(err).Str("notifier", n.Name()).Msg("delivery failed")
			continue
		}
		ok = true
	}
	return ok
}

func (rep *Report) count(ok bool, papers int) {
	if ok {
		rep.Delivered += papers
	} else {
		rep.Failed += papers
	}
}

// persist saves progress mid-run so a crash re-sends at most the paper in
// flight. A failure here is retried by the final save.
func (r *Runner) persist(ctx context.Context, log logger.Logger, ids store.Set) {
	if r.opts.Persist != PersistIncremental {
		return
	}
	if err := r.opts.Store.Save(ctx, ids); err != nil {
		log.Warn().Err(err).Msg("incremental save failed")
	}
}

func (r *Runner) emptyMessage() notifier.Message {
	tried := make([]string, len(r.opts.Windows))
	for i, w := range r.opts.Windows {
		tried[i] = formatWindow(w)
	}
	return notifier.Message{
		Title: "paperwatch: 暂无新论文",
		Body:  fmt.Sprintf("已检索时间窗口: %s\n检索时间: %s", strings.Join(tried, ", "), r.opts.Now().Format("2006-01-02 15:04")),
		Tag:   "paperwatch",
	}
}

func paperMessage(p source.Paper) notifier.Message {
	return notifier.Message{
		Title: p.Title,
		Body:  paperBody(p),
		Link:  p.Link,
		Tag:   p.SourceTag,
	}
}

func paperBody(p source.Paper) string {
	var lines []string
	if p.MatchedKeyword != "" {
		lines = append(lines, "关键词: "+p.MatchedKeyword)
	}
	if len(p.Authors) > 0 {
		lines = append(lines, "作者: "+formatAuthors(p.Authors))
	}
	if !p.PublishedAt.IsZero() {
		lines = append(lines, "发布日期: "+p.PublishedAt.Format("2006-01-02"))
	}
	if len(p.Categories) > 0 {
		lines = append(lines, "分类: "+strings.Join(p.Categories, ", "))
	}
	lines = append(lines, "摘要: "+p.RenderedSummary)
	if p.PDFLink != "" {
		lines = append(lines, "PDF: "+p.PDFLink)
	}
	return strings.Join(lines, "\n")
}

// digestMessage groups papers by matched keyword, falling back to the
// source tag, in first-seen group order.
func digestMessage(papers []source.Paper, window time.Duration) notifier.Message {
	var order []string
	groups := make(map[string][]source.Paper)
	for _, p := range papers {
		key := p.MatchedKeyword
		if key == "" {
			key = p.SourceTag
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], p)
	}

	var b strings.Builder
	n := 0
	for gi, key := range order {
		if gi > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "== %s (%d) ==", key, len(groups[key]))
		for _, p := range groups[key] {
			n++
			fmt.Fprintf(&b, "\n\n%d. [%s] %s\n", n, p.SourceTag, p.Title)
			b.WriteString(paperBody(p))
			if p.Link != "" {
				b.WriteString("\n链接: " + p.Link)
			}
		}
	}
	return notifier.Message{
		Title: fmt.Sprintf("paperwatch: %d 篇新论文 (%s)", len(papers), formatWindow(window)),
		Body:  b.String(),
		Tag:   "digest",
	}
}

func formatAuthors(authors []string) string {
	if len(authors) <= maxListedAuthors {
		return strings.Join(authors, ", ")
	}
	return strings.Join(authors[:maxListedAuthors], ", ") + " et al."
}

// formatWindow renders whole days as "7d", anything else as a duration.
func formatWindow(d time.Duration) string {
	const day = 24 * time.Hour
	if d > 0 && d%day == 0 {
		return fmt.Sprintf("%dd", d/day)
	}
	return d.String()
}
