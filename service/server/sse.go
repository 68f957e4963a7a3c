package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/brojonat/walletwatch/service/metrics"
)

const (
	// EventTransaction carries the display string of a fresh record.
	EventTransaction = "transaction"
	// EventError carries an "Error: ..." live-feed message.
	EventError = "error"

	feedBuffer        = 16
	keepaliveInterval = 10 * time.Second
)

// FeedMessage is one live-feed line as delivered to stream clients.
type FeedMessage struct {
	Event string
	Data  string
}

// Feed fans live-feed messages out to every connected stream client.
// A client that cannot keep up loses messages rather than stalling the poller.
type Feed struct {
	mu      sync.Mutex
	subs    map[chan FeedMessage]struct{}
	closed  bool
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewFeed creates an empty Feed.
func NewFeed(logger *slog.Logger, m *metrics.Metrics) *Feed {
	return &Feed{
		subs:    make(map[chan FeedMessage]struct{}),
		logger:  logger,
		metrics: m,
	}
}

// Notify is a poller notifier: it classifies the message and broadcasts it.
func (f *Feed) Notify(message string) {
	event := EventTransaction
	if strings.HasPrefix(message, "Error:") {
		event = EventError
	}
	f.Broadcast(FeedMessage{Event: event, Data: message})
}

// Broadcast delivers msg to every subscriber without blocking.
func (f *Feed) Broadcast(msg FeedMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	for ch := range f.subs {
		select {
		case ch <- msg:
		default:
			f.logger.Warn("dropping live-feed message for slow client", "event", msg.Event)
		}
	}
}

// Subscribe registers a new client. The channel is closed by the returned
// cancel function or by Close.
func (f *Feed) Subscribe() (<-chan FeedMessage, func()) {
	ch := make(chan FeedMessage, feedBuffer)

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.RecordSSEConnectionChange(1)
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			if _, ok := f.subs[ch]; ok {
				delete(f.subs, ch)
				close(ch)
			}
			f.mu.Unlock()
			if f.metrics != nil {
				f.metrics.RecordSSEConnectionChange(-1)
			}
		})
	}
}

// Subscribers returns the number of connected clients.
func (f *Feed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// Close disconnects all clients. Later broadcasts are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		delete(f.subs, ch)
		close(ch)
	}
	f.logger.Info("live feed closed")
}

// writeEvent writes one SSE frame. Multi-line data is split across data fields.
func writeEvent(w io.Writer, event, data string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "event: %s\n", event)
	for _, line := range strings.Split(strings.TrimRight(data, "\n"), "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// handleStream streams the live feed as Server-Sent Events.
func handleStream(feed *Feed, monitor Monitor, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			writeError(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		msgs, cancel := feed.Subscribe()
		defer cancel()

		logger.DebugContext(r.Context(), "SSE client connected",
			"remote_addr", r.RemoteAddr,
			"subscribers", feed.Subscribers(),
		)

		connected, _ := json.Marshal(map[string]string{"wallet": monitor.Status().Wallet})
		writeEvent(w, "connected", string(connected))
		flusher.Flush()

		keepalive := time.NewTicker(keepaliveInterval)
		defer keepalive.Stop()

		for {
			select {
			case <-keepalive.C:
				fmt.Fprintf(w, ": keepalive\n\n")
				flusher.Flush()

			case msg, ok := <-msgs:
				if !ok {
					return
				}
				if err := writeEvent(w, msg.Event, msg.Data); err != nil {
					logger.DebugContext(r.Context(), "failed to write SSE event", "error", err)
					return
				}
				flusher.Flush()
				if m != nil {
					m.RecordSSEEventSent(msg.Event)
				}

			case <-r.Context().Done():
				logger.DebugContext(r.Context(), "SSE client disconnected", "remote_addr", r.RemoteAddr)
				return
			}
		}
	})
}
