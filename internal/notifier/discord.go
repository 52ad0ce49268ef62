package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ryosukesatoh/paperwatch/internal/retry"
)

const (
	discordColor        = 0x5865F2
	discordTitleLimit   = 256
	discordDescLimit    = 4096
	discordFooterLimit  = 2048
	discordEmbedsPerMsg = 10
	discordCharsPerMsg  = 6000
	discordBatchPause   = 500 * time.Millisecond
)

type discordEmbedFooter struct {
	Text string `json:"text"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	URL         string              `json:"url,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
}

type discordWebhookPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// DiscordNotifier delivers messages to a Discord channel via webhook.
type DiscordNotifier struct {
	webhookURL  string
	maxLines    int
	client      *http.Client
	retryConfig retry.Config
}

func NewDiscordNotifier(webhookURL string, maxLines int, rc retry.Config, timeout time.Duration) *DiscordNotifier {
	rc.Op = "discord"
	return &DiscordNotifier{
		webhookURL:  webhookURL,
		maxLines:    maxLines,
		client:      &http.Client{Timeout: httpTimeout(timeout)},
		retryConfig: rc,
	}
}

func (d *DiscordNotifier) Name() string { return "discord" }

// Notify sends the message as one embed, or as several when the body does
// not fit a single description (digest mode).
func (d *DiscordNotifier) Notify(ctx context.Context, msg Message) error {
	batches := batchEmbeds(d.buildEmbeds(msg))

	for i, batch := range batches {
		err := retry.WithBackoff(ctx, d.retryConfig, func(ctx context.Context) error {
			return d.sendWebhook(ctx, batch)
		})
		if err != nil {
			return fmt.Errorf("discord: failed to send batch %d: %w", i+1, err)
		}

		if i < len(batches)-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(discordBatchPause):
			}
		}
	}
	return nil
}

func (d *DiscordNotifier) buildEmbeds(msg Message) []discordEmbed {
	chunks := splitLines(truncateLines(msg.Body, d.maxLines), discordDescLimit)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	embeds := make([]discordEmbed, 0, len(chunks))
	for i, chunk := range chunks {
		e := discordEmbed{
			Description: chunk,
			Color:       discordColor,
		}
		if i == 0 {
			e.Title = truncate(taggedTitle(msg), discordTitleLimit)
			e.URL = msg.Link
		}
		embeds = append(embeds, e)
	}
	if msg.Tag != "" {
		embeds[len(embeds)-1].Footer = &discordEmbedFooter{Text: truncate(msg.Tag, discordFooterLimit)}
	}
	return embeds
}

// splitLines groups lines into chunks of at most limit bytes. A single
// oversized line is truncated.
func splitLines(body string, limit int) []string {
	var chunks []string
	var cur strings.Builder
	for _, line := range strings.Split(body, "\n") {
		if len(line) > limit {
			line = truncate(line, limit)
		}
		if cur.Len() > 0 && cur.Len()+1+len(line) > limit {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteByte('\n')
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// batchEmbeds splits embeds into batches respecting Discord limits:
// max 10 embeds per message, max 6000 total characters per message.
func batchEmbeds(embeds []discordEmbed) [][]discordEmbed {
	var batches [][]discordEmbed
	var current []discordEmbed
	currentChars := 0

	for _, e := range embeds {
		ec := embedCharCount(e)

		if len(current) > 0 && (len(current) >= discordEmbedsPerMsg || currentChars+ec > discordCharsPerMsg) {
			batches = append(batches, current)
			current = nil
			currentChars = 0
		}

		current = append(current, e)
		currentChars += ec
	}

	if len(current) > 0 {
		batches = append(batches, current)
	}

	return batches
}

func (d *DiscordNotifier) sendWebhook(ctx context.Context, embeds []discordEmbed) error {
	body, err := json.Marshal(discordWebhookPayload{Embeds: embeds})
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	return nil
}

// truncate shortens s to max bytes, preferring a sentence boundary.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}

	cut := s[:max-len("…")]
	if idx := strings.LastIndexAny(cut, ".!?"); idx > max/2 {
		return cut[:idx+1]
	}
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}

// embedCharCount returns the total character count of an embed for batching purposes.
func embedCharCount(e discordEmbed) int {
	n := len(e.Title) + len(e.Description)
	if e.Footer != nil {
		n += len(e.Footer.Text)
	}
	return n
}
