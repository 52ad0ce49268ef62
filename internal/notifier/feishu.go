package notifier

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ryosukesatoh/paperwatch/internal/retry"
)

type feishuElement struct {
	Tag  string `json:"tag"`
	Text string `json:"text,omitempty"`
	Href string `json:"href,omitempty"`
}

type feishuPost struct {
	Title   string            `json:"title"`
	Content [][]feishuElement `json:"content"`
}

type feishuContent struct {
	Post map[string]feishuPost `json:"post"`
}

type feishuPayload struct {
	Timestamp string        `json:"timestamp,omitempty"`
	Sign      string        `json:"sign,omitempty"`
	MsgType   string        `json:"msg_type"`
	Content   feishuContent `json:"content"`
}

type feishuResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// FeishuNotifier posts rich-text messages to a Feishu custom bot webhook,
// signed when a secret is configured.
type FeishuNotifier struct {
	webhookURL  string
	secret      string
	maxLines    int
	client      *http.Client
	retryConfig retry.Config
	now         func() time.Time
}

func NewFeishuNotifier(webhookURL, secret string, maxLines int, rc retry.Config, timeout time.Duration) *FeishuNotifier {
	rc.Op = "feishu"
	return &FeishuNotifier{
		webhookURL:  webhookURL,
		secret:      secret,
		maxLines:    maxLines,
		client:      &http.Client{Timeout: httpTimeout(timeout)},
		retryConfig: rc,
		now:         time.Now,
	}
}

func (f *FeishuNotifier) Name() string { return "feishu" }

// Sign computes the bot signature: base64 of HMAC-SHA256 keyed by
// "{timestamp}\n{secret}" over an empty message.
func Sign(ts int64, secret string) (string, error) {
	key := strconv.FormatInt(ts, 10) + "\n" + secret
	h := hmac.New(sha256.New, []byte(key))
	if _, err := h.Write(nil); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}

func (f *FeishuNotifier) Notify(ctx context.Context, msg Message) error {
	err := retry.WithBackoff(ctx, f.retryConfig, func(ctx context.Context) error {
		payload, err := f.buildPayload(msg)
		if err != nil {
			return retry.Permanent(err)
		}
		return f.send(ctx, payload)
	})
	if err != nil {
		return fmt.Errorf("feishu: %w", err)
	}
	return nil
}

// buildPayload is called per attempt so each retry carries a fresh timestamp.
func (f *FeishuNotifier) buildPayload(msg Message) (*feishuPayload, error) {
	var content [][]feishuElement
	for _, line := range strings.Split(truncateLines(msg.Body, f.maxLines), "\n") {
		content = append(content, []feishuElement{{Tag: "text", Text: line}})
	}
	if msg.Link != "" {
		content = append(content, []feishuElement{{Tag: "a", Text: msg.Link, Href: msg.Link}})
	}

	p := &feishuPayload{
		MsgType: "post",
		Content: feishuContent{Post: map[string]feishuPost{
			"zh_cn": {Title: taggedTitle(msg), Content: content},
		}},
	}
	if f.secret != "" {
		ts := f.now().Unix()
		sign, err := Sign(ts, f.secret)
		if err != nil {
			return nil, fmt.Errorf("sign: %w", err)
		}
		p.Timestamp = strconv.FormatInt(ts, 10)
		p.Sign = sign
	}
	return p, nil
}

func (f *FeishuNotifier) send(ctx context.Context, payload *feishuPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.webhookURL, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &retry.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	var fr feishuResponse
	if err := json.Unmarshal(respBody, &fr); err != nil {
		return retry.Permanent(fmt.Errorf("decode response: %w", err))
	}
	if fr.Code != 0 {
		return retry.Permanent(fmt.Errorf("code %d: %s", fr.Code, fr.Msg))
	}
	return nil
}
