package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ryosukesatoh/paperwatch/internal/logger"
)

const webHistory = 100

// Entry is a message as kept by the WebNotifier.
type Entry struct {
	Message
	At time.Time `json:"at"`
}

// WebNotifier keeps recent messages in memory and serves them over HTTP.
type WebNotifier struct {
	addr   string
	server *http.Server
	router chi.Router
	log    *logger.Logger

	mu      sync.RWMutex
	entries []Entry
	status  any
}

func NewWebNotifier(addr string) *WebNotifier {
	wn := &WebNotifier{addr: addr, log: logger.Named("web")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/", wn.handleIndex)
	r.Get("/api/messages", wn.handleMessages)
	r.Get("/api/status", wn.handleStatus)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	})
	wn.router = r

	wn.server = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return wn
}

func (wn *WebNotifier) Name() string { return "web" }

// Handler exposes the router, mainly for tests.
func (wn *WebNotifier) Handler() http.Handler { return wn.router }

// Start begins serving HTTP in the background. Call Shutdown to stop.
func (wn *WebNotifier) Start() error {
	ln, err := net.Listen("tcp", wn.addr)
	if err != nil {
		return fmt.Errorf("web: failed to listen on %s: %w", wn.addr, err)
	}
	go func() {
		wn.log.Info().Str("addr", ln.Addr().String()).Msg("web notifier listening")
		if err := wn.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			wn.log.Error().Err(err).Msg("web server stopped")
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (wn *WebNotifier) Shutdown(ctx context.Context) error {
	return wn.server.Shutdown(ctx)
}

func (wn *WebNotifier) Notify(_ context.Context, msg Message) error {
	wn.mu.Lock()
	wn.entries = append(wn.entries, Entry{Message: msg, At: time.Now()})
	if over := len(wn.entries) - webHistory; over > 0 {
		wn.entries = append([]Entry(nil), wn.entries[over:]...)
	}
	wn.mu.Unlock()
	return nil
}

// SetStatus records the latest run summary for /api/status.
func (wn *WebNotifier) SetStatus(v any) {
	wn.mu.Lock()
	wn.status = v
	wn.mu.Unlock()
}

// recent returns the kept messages, newest first.
func (wn *WebNotifier) recent() []Entry {
	wn.mu.RLock()
	defer wn.mu.RUnlock()
	out := make([]Entry, len(wn.entries))
	for i, e := range wn.entries {
		out[len(out)-1-i] = e
	}
	return out
}

func (wn *WebNotifier) handleMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, wn.recent())
}

func (wn *WebNotifier) handleStatus(w http.ResponseWriter, _ *http.Request) {
	wn.mu.RLock()
	status := wn.status
	wn.mu.RUnlock()
	if status == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, status)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

var indexTmpl = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>paperwatch</title>
<style>body{font-family:sans-serif;max-width:860px;margin:2em auto;color:#222}
article{border-bottom:1px solid #ddd;padding:1em 0}pre{white-space:pre-wrap;font-family:inherit}
.tag{color:#5865F2;font-size:.85em}.at{color:#888;font-size:.8em}</style></head>
<body><h1>paperwatch</h1>
{{if not .}}<p>No papers delivered yet. Check back later.</p>{{end}}
{{range .}}<article>
<div class="tag">{{.Tag}}</div>
<h3>{{if .Link}}<a href="{{.Link}}">{{.Title}}</a>{{else}}{{.Title}}{{end}}</h3>
<pre>{{.Body}}</pre>
<div class="at">{{.At.Format "2006-01-02 15:04"}}</div>
</article>{{end}}
</body></html>`))

func (wn *WebNotifier) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTmpl.Execute(w, wn.recent()); err != nil {
		wn.log.Error().Err(err).Msg("render index")
	}
}
