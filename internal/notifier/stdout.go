package notifier

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
)

// StdoutNotifier prints messages to a terminal.
type StdoutNotifier struct {
	w io.Writer
}

// NewStdoutNotifier writes to w, or os.Stdout when w is nil.
func NewStdoutNotifier(w io.Writer) *StdoutNotifier {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutNotifier{w: w}
}

func (p *StdoutNotifier) Name() string { return "stdout" }

func (p *StdoutNotifier) Notify(_ context.Context, msg Message) error {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 72) + "\n")
	b.WriteString(taggedTitle(msg) + "\n")
	b.WriteString(strings.Repeat("-", 72) + "\n")
	if msg.Body != "" {
		b.WriteString(msg.Body + "\n")
	}
	if msg.Link != "" {
		b.WriteString("Link: " + msg.Link + "\n")
	}
	b.WriteString(strings.Repeat("=", 72) + "\n\n")

	if _, err := fmt.Fprint(p.w, b.String()); err != nil {
		return fmt.Errorf("stdout: %w", err)
	}
	return nil
}
