package aggregator

import (
	"context"
	"fmt"
	"time"

	"github.com/ryosukesatoh/paperwatch/internal/logger"
	"github.com/ryosukesatoh/paperwatch/internal/query"
	"github.com/ryosukesatoh/paperwatch/internal/source"
	"github.com/ryosukesatoh/paperwatch/internal/store"
)

// Phase is the controller's position in the escalating-window search.
type Phase int

const (
	Searching Phase = iota
	Found
	Exhausted
)

func (p Phase) String() string {
	switch p {
	case Searching:
		return "searching"
	case Found:
		return "found"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// State is Searching(Index), Found or Exhausted. Index is the window under
// search, or the last window searched once terminal.
type State struct {
	Phase Phase
	Index int
}

func (s State) Terminal() bool { return s.Phase != Searching }

func (s State) String() string {
	if s.Phase == Searching {
		return fmt.Sprintf("searching(%d)", s.Index)
	}
	return s.Phase.String()
}

type Options struct {
	// Feed is queried once per topic query. Required when Topics is set.
	Feed source.Source
	// Listing is queried once per scrape term. Nil skips the scrape pass.
	Listing     source.Source
	Topics      []query.Topic
	ScrapeTerms []string
	// StrictScrape drops listing papers that do not mention their term.
	StrictScrape bool
	// Windows must be ascending.
	Windows []time.Duration
	Now     func() time.Time
}

// Outcome is the final result of a search.
type Outcome struct {
	Papers []source.Paper
	// Window is the lookback that produced Papers, or the widest one tried.
	Window time.Duration
	State  State
	Passes int
}

// Controller runs the escalating-window search against one owned set of
// already-delivered IDs.
type Controller struct {
	opts   Options
	known  store.Set
	now    time.Time
	state  State
	papers []source.Paper
	passes int
	log    *logger.Logger
}

// New captures the current time once for the whole search. known is owned
// by the controller until Run returns.
func New(opts Options, known store.Set) *Controller {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if known == nil {
		known = store.NewSet()
	}
	c := &Controller{
		opts:  opts,
		known: known,
		now:   opts.Now(),
		log:   logger.Named("aggregator"),
	}
	if len(opts.Windows) == 0 {
		c.state = State{Phase: Exhausted}
	}
	return c
}

func (c *Controller) State() State { return c.state }

// Known returns the owned ID set, grown by the accepted papers once Found.
func (c *Controller) Known() store.Set { return c.known }

// Step runs one window pass and applies the transition. It is a no-op in a
// terminal state.
func (c *Controller) Step(ctx context.Context) State {
	if c.state.Terminal() {
		return c.state
	}
	i := c.state.Index
	papers := c.pass(ctx, c.opts.Windows[i])
	c.passes++

	switch {
	case len(papers) > 0:
		c.papers = papers
		for _, p := range papers {
			c.known.Add(p.ID)
		}
		c.state = State{Phase: Found, Index: i}
	case i+1 < len(c.opts.Windows):
		c.state = State{Phase: Searching, Index: i + 1}
	default:
		c.state = State{Phase: Exhausted, Index: i}
	}
	return c.state
}

// Run steps until a terminal state and reports the outcome.
func (c *Controller) Run(ctx context.Context) Outcome {
	for !c.state.Terminal() {
		c.Step(ctx)
	}
	out := Outcome{Papers: c.papers, State: c.state, Passes: c.passes}
	if len(c.opts.Windows) > 0 {
		out.Window = c.opts.Windows[c.state.Index]
	}
	return out
}

// pass collects the papers of one window: feed queries per topic up to the
// topic's target, then every scrape term without a cap.
func (c *Controller) pass(ctx context.Context, window time.Duration) []source.Paper {
	since := c.now.Add(-window)
	log := c.log.With().Dur("window", window).Logger()
	log.Info().Time("since", since).Msg("searching window")

	var accepted []source.Paper
	filtered := 0
	seen := make(map[string]struct{})
	accept := func(p source.Paper) bool {
		if c.known.Has(p.ID) {
			return false
		}
		if _, ok := seen[p.ID]; ok {
			return false
		}
		seen[p.ID] = struct{}{}
		accepted = append(accepted, p)
		return true
	}

	for _, topic := range c.opts.Topics {
		if len(topic.Queries) == 0 || c.opts.Feed == nil {
			continue
		}
		collected := 0
		full := func() bool { return topic.TargetCount > 0 && collected >= topic.TargetCount }
	queries:
		for _, q := range topic.Queries {
			if full() {
				break
			}
			res, err := c.opts.Feed.Fetch(ctx, q, since)
			if err != nil {
				log.Warn().Err(err).Str("topic", topic.Name).Str("query", q).Msg("feed query failed")
				continue
			}
			logResult(log, c.opts.Feed.Name(), q, res)
			for _, p := range res.Papers {
				p.SourceTag = topic.Name
				p.MatchedKeyword = query.Match(p.Title, p.Summary, topic.Keywords)
				if topic.Strict && p.MatchedKeyword == "" {
					filtered++
					continue
				}
				if accept(p) {
					collected++
					if full() {
						break queries
					}
				}
			}
		}
		log.Debug().Str("topic", topic.Name).Int("collected", collected).Msg("topic done")
	}

	if c.opts.Listing != nil {
		for _, term := range c.opts.ScrapeTerms {
			res, err := c.opts.Listing.Fetch(ctx, term, since)
			if err != nil {
				log.Warn().Err(err).Str("term", term).Msg("listing query failed")
				continue
			}
			logResult(log, c.opts.Listing.Name(), term, res)
			for _, p := range res.Papers {
				if p.SourceTag == "" {
					p.SourceTag = c.opts.Listing.Name()
				}
				p.MatchedKeyword = query.Match(p.Title, p.Summary, []string{term})
				if c.opts.StrictScrape && p.MatchedKeyword == "" {
					filtered++
					continue
				}
				accept(p)
			}
		}
	}

	log.Info().Int("papers", len(accepted)).Int("filtered", filtered).Msg("window pass done")
	return accepted
}

func logResult(log logger.Logger, src, q string, res source.Result) {
	ev := log.Debug()
	if len(res.Invalid) > 0 {
		ev = log.Warn().Errs("invalid", res.Invalid)
	}
	ev.Str("source", src).Str("query", q).
		Int("papers", len(res.Papers)).
		Int("too_old", res.Skipped).
		Msg("fetched")
}
