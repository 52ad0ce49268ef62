package notifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ryosukesatoh/paperwatch/internal/config"
	"github.com/ryosukesatoh/paperwatch/internal/logger"
	"github.com/ryosukesatoh/paperwatch/internal/retry"
)

// ElisionMarker ends a body cut to the line budget.
const ElisionMarker = "... (truncated, see full report)"

// Message is one notification. Tag labels its origin (topic or source).
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Link  string `json:"link,omitempty"`
	Tag   string `json:"tag,omitempty"`
}

// Notifier delivers messages. Errors are for logging; callers carry on.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, msg Message) error
}

// New builds the configured notifiers. web receives "web" messages and may
// be nil outside serve mode, in which case that type is skipped.
func New(cfg config.NotifierConfig, web *WebNotifier) ([]Notifier, error) {
	var out []Notifier
	for _, typ := range cfg.Types {
		switch typ {
		case "feishu":
			out = append(out, NewFeishuNotifier(cfg.Feishu.WebhookURL, cfg.Feishu.Secret, cfg.MaxLines, retryConfig(cfg), cfg.Timeout))
		case "discord":
			out = append(out, NewDiscordNotifier(cfg.Discord.WebhookURL, cfg.MaxLines, retryConfig(cfg), cfg.Timeout))
		case "stdout":
			out = append(out, NewStdoutNotifier(nil))
		case "web":
			if web == nil {
				logger.Named("notifier").Warn().Msg("web notifier only runs in serve mode, skipping")
				continue
			}
			out = append(out, web)
		default:
			return nil, fmt.Errorf("notifier: unsupported type %q", typ)
		}
	}
	return out, nil
}

func retryConfig(cfg config.NotifierConfig) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxRetries = cfg.MaxRetries
	return rc
}

func httpTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// truncateLines keeps at most max lines of body, appending ElisionMarker
// when anything was dropped.
func truncateLines(body string, max int) string {
	if max <= 0 {
		return body
	}
	lines := strings.Split(body, "\n")
	if len(lines) <= max {
		return body
	}
	return strings.Join(lines[:max], "\n") + "\n" + ElisionMarker
}

func taggedTitle(msg Message) string {
	if msg.Tag == "" {
		return msg.Title
	}
	return "[" + msg.Tag + "] " + msg.Title
}
