package podlogs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/manisharma/pod-log-streamer/internal/proxy"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	chunkSize    = 32 * 1024
	maxErrorBody = 4 * 1024
)

// ErrNoBody is reported when a response carries no body.
var ErrNoBody = errors.New("response body is not readable")

// Fetcher owns the log state of a set of pods, keyed by pod name. At most one
// fetch per pod is current; starting a new one cancels the previous, and a
// cancelled or superseded fetch never mutates state again.
type Fetcher struct {
	client    proxy.Client
	logger    zerolog.Logger
	observers []func(Event)

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool

	// held while delivering events so observers see transitions in apply order
	notifyMu sync.Mutex
}

type entry struct {
	state   State
	current *Handle
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithObserver registers fn for every applied transition. Observers run
// synchronously and must not call back into the Fetcher.
func WithObserver(fn func(Event)) Option {
	return func(f *Fetcher) {
		if fn != nil {
			f.observers = append(f.observers, fn)
		}
	}
}

func NewFetcher(client proxy.Client, logger zerolog.Logger, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:  client,
		logger:  logger,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Handle tracks one fetch.
type Handle struct {
	f      *Fetcher
	req    Request
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	last   State
}

// Done is closed once the fetch stopped touching the network.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until Done and returns the last state this fetch applied.
func (h *Handle) Wait() State {
	<-h.done
	return h.State()
}

// State returns the last state this fetch applied.
func (h *Handle) State() State {
	h.f.mu.Lock()
	defer h.f.mu.Unlock()
	return h.last
}

// Cancel stops this fetch if it is still the pod's current one.
func (h *Handle) Cancel() {
	h.f.cancel(h.req.PodName, h)
}

// Fetch cancels any fetch in flight for req.PodName and starts a new one.
// ctx bounds the fetch's lifetime; cancelling it is a silent cancellation.
func (f *Fetcher) Fetch(ctx context.Context, req Request) *Handle {
	fctx, cancel := context.WithCancel(ctx)
	h := &Handle{f: f, req: req, ctx: fctx, cancel: cancel, done: make(chan struct{})}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		cancel()
		close(h.done)
		return h
	}
	e, ok := f.entries[req.PodName]
	if !ok {
		e = &entry{}
		f.entries[req.PodName] = e
	}
	prev := e.current
	e.current = h
	e.state = State{Loading: true}
	h.last = e.state
	f.notifyMu.Lock()
	f.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}
	f.emit(Event{Pod: req.PodName, Kind: EventStarted, State: h.last})
	f.notifyMu.Unlock()

	go f.run(h)
	return h
}

// Cancel stops the pod's current fetch. Logs received so far are kept,
// Loading becomes false and no error is recorded.
func (f *Fetcher) Cancel(podName string) {
	f.cancel(podName, nil)
}

// State returns the pod's current state.
func (f *Fetcher) State(podName string) (State, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[podName]
	if !ok {
		return State{}, false
	}
	return e.state, true
}

// States snapshots every pod's state.
func (f *Fetcher) States() map[string]State {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]State, len(f.entries))
	for pod, e := range f.entries {
		out[pod] = e.state
	}
	return out
}

// Close cancels every fetch and forgets all state. Later Fetch calls are no-ops.
func (f *Fetcher) Close() {
	f.mu.Lock()
	entries := f.entries
	f.entries = make(map[string]*entry)
	f.closed = true
	f.mu.Unlock()
	for _, e := range entries {
		if e.current != nil {
			e.current.cancel()
		}
	}
}

// cancel detaches the pod's current fetch; when only is set it must be the current one.
func (f *Fetcher) cancel(podName string, only *Handle) {
	f.mu.Lock()
	e, ok := f.entries[podName]
	if !ok || e.current == nil || (only != nil && e.current != only) {
		f.mu.Unlock()
		if only != nil {
			only.cancel()
		}
		return
	}
	h := e.current
	e.current = nil
	e.state.Loading = false
	h.last = e.state
	st := e.state
	f.notifyMu.Lock()
	f.mu.Unlock()
	h.cancel()
	f.emit(Event{Pod: podName, Kind: EventCancelled, State: st})
	f.notifyMu.Unlock()
}

// apply mutates the pod's state on behalf of h if h is still current and live.
func (f *Fetcher) apply(h *Handle, kind EventKind, chunk string, mutate func(*State)) bool {
	f.mu.Lock()
	e, ok := f.entries[h.req.PodName]
	if !ok || e.current != h || (kind != EventCancelled && h.ctx.Err() != nil) {
		f.mu.Unlock()
		return false
	}
	mutate(&e.state)
	if kind != EventChunk {
		e.current = nil
	}
	h.last = e.state
	st := e.state
	f.notifyMu.Lock()
	f.mu.Unlock()
	f.emit(Event{Pod: h.req.PodName, Kind: kind, Chunk: chunk, State: st})
	f.notifyMu.Unlock()
	return true
}

func (f *Fetcher) emit(ev Event) {
	for _, fn := range f.observers {
		fn(ev)
	}
}

func (f *Fetcher) run(h *Handle) {
	req := h.req
	logger := f.logger.With().
		Str("cluster", req.ClusterName).
		Str("namespace", req.Namespace).
		Str("pod", req.PodName).
		Str("container", req.ContainerName).
		Logger()

	defer close(h.done)
	defer h.cancel()
	// a fetch that stops while still current without reaching a terminal
	// state was cancelled through its context
	defer func() {
		if f.apply(h, EventCancelled, "", func(s *State) { s.Loading = false }) {
			logger.Debug().Msg("fetch cancelled")
		}
	}()

	path := req.Path()
	logger.Debug().Str("path", path).Bool("follow", req.Follow).Msg("fetching logs")
	resp, err := f.client.Proxy(h.ctx, req.ClusterName, path)
	if err != nil {
		f.settle(h, logger, "Failed to fetch logs: ", err)
		return
	}
	if resp.Body == nil {
		f.fail(h, logger, "Failed to fetch logs: "+ErrNoBody.Error())
		return
	}
	defer resp.Body.Close()
	logger.Debug().Int("status", resp.StatusCode).Msg("log response received")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		f.fail(h, logger, statusMessage(resp))
		return
	}
	body := transform.NewReader(resp.Body, unicode.UTF8.NewDecoder())

	if !req.Follow {
		text, err := io.ReadAll(body)
		if err != nil {
			f.settle(h, logger, "Failed to read logs: ", err)
			return
		}
		logger.Debug().Int("bytes", len(text)).Msg("logs received")
		f.apply(h, EventCompleted, "", func(s *State) {
			s.Logs = string(text)
			s.Loading = false
		})
		return
	}

	buf := make([]byte, chunkSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			chunk := string(buf[:n])
			if !f.apply(h, EventChunk, chunk, func(s *State) { s.Logs += chunk }) {
				logger.Debug().Msg("stream no longer current, stopping")
				return
			}
		}
		if errors.Is(err, io.EOF) {
			logger.Debug().Msg("stream complete")
			f.apply(h, EventCompleted, "", func(s *State) { s.Loading = false })
			return
		}
		if err != nil {
			f.settle(h, logger, "Failed to read log stream: ", err)
			return
		}
	}
}

// settle records err unless the fetch was cancelled, which is not a failure.
func (f *Fetcher) settle(h *Handle, logger zerolog.Logger, prefix string, err error) {
	if h.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return
	}
	f.fail(h, logger, prefix+err.Error())
}

func (f *Fetcher) fail(h *Handle, logger zerolog.Logger, msg string) {
	if f.apply(h, EventFailed, "", func(s *State) {
		s.Loading = false
		s.Err = msg
	}) {
		logger.Error().Str("error", msg).Msg("fetching logs failed")
	}
}

// statusMessage reads the body of a non-2xx response. An empty body leaves
// the detail empty; only an unreadable one is reported as unknown.
func statusMessage(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	detail := "Unknown error"
	if b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)); err == nil {
		detail = strings.TrimSpace(string(b))
	}
	return fmt.Sprintf("Failed to fetch logs: %d %s - %s", resp.StatusCode, text, detail)
}
