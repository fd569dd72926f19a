package deployment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/manisharma/pod-log-streamer/internal/grouping"
	"github.com/manisharma/pod-log-streamer/internal/proxy"
	"github.com/rs/zerolog"
)

// podOf extracts the pod name of a pod log path.
func podOf(path string) string {
	return strings.Split(path, "/")[6]
}

type fakeCluster struct {
	mu     sync.Mutex
	calls  []string
	handle func(ctx context.Context, pod string) (*http.Response, error)
}

var _ proxy.Client = (*fakeCluster)(nil)

func (c *fakeCluster) Proxy(ctx context.Context, cluster, path string) (*http.Response, error) {
	pod := podOf(path)
	c.mu.Lock()
	c.calls = append(c.calls, pod)
	c.mu.Unlock()
	return c.handle(ctx, pod)
}

func (c *fakeCluster) called() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func ok(body string) *http.Response {
	return &http.Response{StatusCode: http.StatusOK, Status: "200 OK", Body: io.NopCloser(strings.NewReader(body))}
}

func podsNamed(names ...string) []grouping.PodDescriptor {
	pods := make([]grouping.PodDescriptor, 0, len(names))
	for _, n := range names {
		pods = append(pods, grouping.PodDescriptor{Name: n, Namespace: "shop"})
	}
	return pods
}

func waitOrFail(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
}

func TestSessionBoundsPodSet(t *testing.T) {
	names := make([]string, 15)
	for i := range names {
		names[i] = fmt.Sprintf("api-%02d", i)
	}
	cluster := &fakeCluster{handle: func(ctx context.Context, pod string) (*http.Response, error) {
		return ok(pod + "\n"), nil
	}}
	s := NewSession(cluster, Config{ClusterName: "dev", Namespace: "shop", MaxPods: 10}, podsNamed(names...), zerolog.Nop())
	t.Cleanup(s.Close)

	s.FetchAll(context.Background())
	waitOrFail(t, s)

	called := cluster.called()
	if len(called) != 10 {
		t.Fatalf("expected 10 proxied calls, got %d: %v", len(called), called)
	}
	seen := make(map[string]bool)
	for _, pod := range called {
		seen[pod] = true
	}
	for i, name := range names {
		if want := i < 10; seen[name] != want {
			t.Errorf("pod %s fetched = %v, want %v", name, seen[name], want)
		}
	}
	if got := len(s.Pods()); got != 10 {
		t.Errorf("len(Pods()) = %d", got)
	}
	if s.Dropped() != 5 {
		t.Errorf("Dropped() = %d", s.Dropped())
	}
}

func TestSessionDefaultsMaxPods(t *testing.T) {
	names := make([]string, 12)
	for i := range names {
		names[i] = fmt.Sprintf("p%d", i)
	}
	s := NewSession(&fakeCluster{}, Config{}, podsNamed(names...), zerolog.Nop())
	if got := len(s.Pods()); got != DefaultMaxPods {
		t.Errorf("len(Pods()) = %d, want %d", got, DefaultMaxPods)
	}
}

func TestSessionIsolatesErrors(t *testing.T) {
	cluster := &fakeCluster{handle: func(ctx context.Context, pod string) (*http.Response, error) {
		if pod == "b" {
			return nil, errors.New("connection refused")
		}
		return ok("hello from " + pod + "\n"), nil
	}}
	s := NewSession(cluster, Config{ClusterName: "dev", Namespace: "shop"}, podsNamed("a", "b"), zerolog.Nop())
	t.Cleanup(s.Close)

	s.FetchAll(context.Background())
	waitOrFail(t, s)

	want := Snapshot{
		LogsData: map[string]string{"a": "hello from a\n", "b": ""},
		Loading:  map[string]bool{"a": false, "b": false},
		Errors:   map[string]string{"b": "Failed to fetch logs: connection refused"},
	}
	if diff := cmp.Diff(want, s.Snapshot()); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionFetchOne(t *testing.T) {
	var (
		mu sync.Mutex
		n  int
	)
	cluster := &fakeCluster{handle: func(ctx context.Context, pod string) (*http.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		n++
		return ok(fmt.Sprintf("%s #%d\n", pod, n)), nil
	}}
	s := NewSession(cluster, Config{}, podsNamed("a"), zerolog.Nop())
	t.Cleanup(s.Close)

	if err := s.FetchOne(context.Background(), "zzz"); !errors.Is(err, ErrUnknownPod) {
		t.Errorf("FetchOne(unknown) = %v, want ErrUnknownPod", err)
	}
	s.FetchAll(context.Background())
	waitOrFail(t, s)
	if err := s.FetchOne(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	waitOrFail(t, s)

	if got := s.Snapshot().LogsData["a"]; got != "a #2\n" {
		t.Errorf("logs = %q", got)
	}
	if diff := cmp.Diff([]string{"a", "a"}, cluster.called()); diff != "" {
		t.Errorf("calls mismatch (-want +got):\n%s", diff)
	}
}

func TestSessionCloseCancelsInFlight(t *testing.T) {
	var (
		entered  = make(chan struct{}, 3)
		returned sync.WaitGroup
	)
	returned.Add(3)
	cluster := &fakeCluster{handle: func(ctx context.Context, pod string) (*http.Response, error) {
		defer returned.Done()
		entered <- struct{}{}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s := NewSession(cluster, Config{Follow: true}, podsNamed("a", "b", "c"), zerolog.Nop())

	s.FetchAll(context.Background())
	for range 3 {
		<-entered
	}
	s.Close()
	// every proxy call has returned once Close is done
	returned.Wait()

	if snap := s.Snapshot(); len(snap.LogsData) != 0 || len(snap.Errors) != 0 {
		t.Errorf("state left after Close: %+v", snap)
	}
}

func TestSessionCloseWaitsForSupersededFetch(t *testing.T) {
	var (
		mu     sync.Mutex
		calls  int
		active int
	)
	entered := make(chan struct{}, 2)
	cluster := &fakeCluster{handle: func(ctx context.Context, pod string) (*http.Response, error) {
		mu.Lock()
		calls++
		first := calls == 1
		active++
		mu.Unlock()
		defer func() {
			mu.Lock()
			active--
			mu.Unlock()
		}()
		entered <- struct{}{}
		<-ctx.Done()
		if first {
			// slow to unwind after cancellation
			time.Sleep(200 * time.Millisecond)
		}
		return nil, ctx.Err()
	}}
	s := NewSession(cluster, Config{Follow: true}, podsNamed("a"), zerolog.Nop())

	if err := s.FetchOne(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	<-entered
	if err := s.FetchOne(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	<-entered
	s.Close()

	mu.Lock()
	defer mu.Unlock()
	if active != 0 {
		t.Errorf("proxy calls still running after Close: %d", active)
	}
}

func TestSessionWaitHonoursContext(t *testing.T) {
	cluster := &fakeCluster{handle: func(ctx context.Context, pod string) (*http.Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s := NewSession(cluster, Config{}, podsNamed("a"), zerolog.Nop())
	t.Cleanup(s.Close)
	s.FetchAll(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v", err)
	}
	if st := s.Snapshot(); !st.Loading["a"] {
		t.Errorf("expected a to still be loading: %+v", st)
	}
}

func TestSessionExport(t *testing.T) {
	cluster := &fakeCluster{handle: func(ctx context.Context, pod string) (*http.Response, error) {
		return ok("line of " + pod), nil
	}}
	pods := []grouping.PodDescriptor{
		{Name: "api-1", Status: "Running"},
		{Name: "api-2"},
	}
	s := NewSession(cluster, Config{}, pods, zerolog.Nop())
	t.Cleanup(s.Close)
	s.FetchAll(context.Background())
	waitOrFail(t, s)

	var buf bytes.Buffer
	if err := s.Export(&buf); err != nil {
		t.Fatal(err)
	}
	rule := strings.Repeat("=", 80)
	want := rule + "\nPOD: api-1\nSTATUS: Running\n" + rule + "\n\nline of api-1\n\n" +
		"\n" +
		rule + "\nPOD: api-2\nSTATUS: Unknown\n" + rule + "\n\nline of api-2\n\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("export mismatch (-want +got):\n%s", diff)
	}
}
