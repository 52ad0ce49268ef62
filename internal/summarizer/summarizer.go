package summarizer

import (
	"context"
	"strings"

	"github.com/ryosukesatoh/paperwatch/internal/config"
	"github.com/ryosukesatoh/paperwatch/internal/logger"
)

const (
	// NoAbstractMarker replaces an empty abstract.
	NoAbstractMarker = "无摘要"
	// FallbackPrefix marks a raw-text excerpt used when summarization failed.
	FallbackPrefix = "[原文摘要] "

	fallbackRunes = 300
)

// Gateway turns a raw abstract into a rendered summary. It never fails: on
// any error the result degrades to Fallback(raw).
type Gateway interface {
	Summarize(ctx context.Context, raw string) string
}

// New creates a gateway from the configuration. Without an API key it
// returns a FallbackGateway; config validation already rejected that case
// when summarization is required.
func New(cfg config.SummarizerConfig) Gateway {
	if cfg.APIKey == "" {
		logger.Named("summarizer").Warn().Msg("no API key configured, abstracts will be excerpted")
		return FallbackGateway{}
	}
	return NewChatGateway(cfg)
}

// Fallback is the deterministic excerpt of raw used when no summary is
// available.
func Fallback(raw string) string {
	text := strings.Join(strings.Fields(raw), " ")
	if text == "" {
		return NoAbstractMarker
	}
	runes := []rune(text)
	if len(runes) > fallbackRunes {
		return FallbackPrefix + string(runes[:fallbackRunes]) + "..."
	}
	return FallbackPrefix + text
}

// FallbackGateway excerpts without calling any service.
type FallbackGateway struct{}

func (FallbackGateway) Summarize(_ context.Context, raw string) string {
	return Fallback(raw)
}
