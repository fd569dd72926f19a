package proxy

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nxadm/tail"
	"github.com/rs/zerolog"
)

var podLogPath = regexp.MustCompile(`^/api/v1/namespaces/([^/]+)/pods/([^/]+)/log$`)

// NodeClient answers pod log requests from the kubelet's log files on the
// local node instead of an API server. Layout:
//
//	{logDir}/{namespace}_{pod}_{uid}/{container}/{restart}.log
type NodeClient struct {
	clusterName string
	logDir      string
	poll        bool
	logger      zerolog.Logger
}

type NodeOption func(*NodeClient)

// WithPolling makes follow mode poll the file instead of using inotify.
func WithPolling() NodeOption {
	return func(n *NodeClient) { n.poll = true }
}

func NewNodeClient(clusterName, logDir string, logger zerolog.Logger, opts ...NodeOption) *NodeClient {
	n := &NodeClient{clusterName: clusterName, logDir: logDir, logger: logger}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type nodeQuery struct {
	container  string
	follow     bool
	timestamps bool
	tailLines  int
}

func (n *NodeClient) Proxy(ctx context.Context, clusterName, path string) (*http.Response, error) {
	if clusterName != n.clusterName {
		return textResponse(http.StatusNotFound, fmt.Sprintf("cluster %q is not served by this node", clusterName)), nil
	}
	u, err := url.Parse(path)
	if err != nil {
		return textResponse(http.StatusBadRequest, err.Error()), nil
	}
	m := podLogPath.FindStringSubmatch(u.Path)
	if m == nil {
		return textResponse(http.StatusNotFound, fmt.Sprintf("path %q is not served by this node", u.Path)), nil
	}
	namespace, pod := m[1], m[2]
	q, err := parseNodeQuery(u.Query())
	if err != nil {
		return textResponse(http.StatusBadRequest, err.Error()), nil
	}
	file, code, msg := n.resolve(namespace, pod, q.container)
	if code != http.StatusOK {
		return textResponse(code, msg), nil
	}

	logger := n.logger.With().
		Str("namespace", namespace).
		Str("pod", pod).
		Str("path", file).
		Logger()

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	// an unterminated last line is still being written; follow picks it up
	complete := bytes.LastIndexByte(data, '\n') + 1
	dec := &criDecoder{timestamps: q.timestamps}
	lines := dec.decode(string(data[:complete]))
	if !q.follow {
		lines = lastLines(append(lines, dec.flush()...), q.tailLines)
		return textResponse(http.StatusOK, strings.Join(lines, "")), nil
	}
	lines = lastLines(lines, q.tailLines)

	r, w := io.Pipe()
	go n.follow(ctx, logger, file, int64(complete), strings.Join(lines, ""), dec, w)
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        statusLine(http.StatusOK),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          r,
		ContentLength: -1,
	}, nil
}

func (n *NodeClient) follow(ctx context.Context, logger zerolog.Logger, path string, offset int64, initial string, dec *criDecoder, w *io.PipeWriter) {
	if initial != "" {
		if _, err := io.WriteString(w, initial); err != nil {
			return
		}
	}
	t, err := tail.TailFile(path, tail.Config{
		Follow:    true,
		MustExist: true,
		Poll:      n.poll,
		Location:  &tail.SeekInfo{Offset: offset, Whence: io.SeekStart},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		logger.Error().Err(err).Msg("tailing failed")
		w.CloseWithError(err)
		return
	}
	logger.Debug().Msg("tailing started")
	defer func() {
		_ = t.Stop()
		t.Cleanup()
		logger.Debug().Msg("tailing stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			w.CloseWithError(ctx.Err())
			return
		case line, ok := <-t.Lines:
			if !ok {
				w.Close()
				return
			}
			if line.Err != nil {
				w.CloseWithError(line.Err)
				return
			}
			for _, out := range dec.decode(line.Text + "\n") {
				if _, err := io.WriteString(w, out); err != nil {
					return
				}
			}
		}
	}
}

// resolve finds the newest log file of a pod's container.
func (n *NodeClient) resolve(namespace, pod, container string) (string, int, string) {
	podDirs, _ := filepath.Glob(filepath.Join(n.logDir, namespace+"_"+pod+"_*"))
	if len(podDirs) == 0 {
		return "", http.StatusNotFound, fmt.Sprintf("pods %q not found", pod)
	}
	podDir := newest(podDirs)

	entries, err := os.ReadDir(podDir)
	if err != nil {
		return "", http.StatusInternalServerError, err.Error()
	}
	var containers []string
	for _, e := range entries {
		if e.IsDir() {
			containers = append(containers, e.Name())
		}
	}
	switch {
	case container == "" && len(containers) == 1:
		container = containers[0]
	case container == "":
		return "", http.StatusBadRequest, fmt.Sprintf("a container name must be specified for pod %s, choose one of: %v", pod, containers)
	case !contains(containers, container):
		return "", http.StatusBadRequest, fmt.Sprintf("container %s is not valid for pod %s", container, pod)
	}

	files, _ := filepath.Glob(filepath.Join(podDir, container, "*.log"))
	if len(files) == 0 {
		return "", http.StatusBadRequest, fmt.Sprintf("container %q in pod %q is waiting to start", container, pod)
	}
	// {restart}.log, highest restart is the running container
	sort.Slice(files, func(i, j int) bool { return restartOf(files[i]) < restartOf(files[j]) })
	return files[len(files)-1], http.StatusOK, ""
}

func restartOf(path string) int {
	n, err := strconv.Atoi(strings.TrimSuffix(filepath.Base(path), ".log"))
	if err != nil {
		return -1
	}
	return n
}

func newest(paths []string) string {
	best, bestTime := paths[0], int64(-1)
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if ts := info.ModTime().UnixNano(); ts > bestTime {
			best, bestTime = p, ts
		}
	}
	return best
}

func contains(items []string, item string) bool {
	for _, i := range items {
		if i == item {
			return true
		}
	}
	return false
}

func parseNodeQuery(values url.Values) (nodeQuery, error) {
	q := nodeQuery{container: values.Get("container"), tailLines: -1}
	var err error
	if v := values.Get("follow"); v != "" {
		if q.follow, err = strconv.ParseBool(v); err != nil {
			return q, fmt.Errorf("invalid follow %q", v)
		}
	}
	if v := values.Get("timestamps"); v != "" {
		if q.timestamps, err = strconv.ParseBool(v); err != nil {
			return q, fmt.Errorf("invalid timestamps %q", v)
		}
	}
	if v := values.Get("tailLines"); v != "" {
		if q.tailLines, err = strconv.Atoi(v); err != nil || q.tailLines < 0 {
			return q, fmt.Errorf("invalid tailLines %q", v)
		}
	}
	return q, nil
}

// lastLines keeps the last n lines; n < 0 keeps everything.
func lastLines(lines []string, n int) []string {
	if n < 0 || len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

// criDecoder turns CRI log lines (<ts> <stream> <P|F> <msg>) back into
// container output, joining partial lines.
type criDecoder struct {
	timestamps bool
	partialTS  string
	partial    strings.Builder
	pending    bool
}

func (d *criDecoder) decode(text string) []string {
	var out []string
	for _, raw := range strings.SplitAfter(text, "\n") {
		if raw == "" {
			continue
		}
		raw = strings.TrimSuffix(raw, "\n")
		parts := strings.SplitN(raw, " ", 4)
		if len(parts) < 3 || (parts[2] != "P" && parts[2] != "F") {
			out = append(out, raw+"\n")
			continue
		}
		ts, tag, msg := parts[0], parts[2], ""
		if len(parts) == 4 {
			msg = parts[3]
		}
		if !d.pending {
			d.partialTS = ts
		}
		d.partial.WriteString(msg)
		d.pending = true
		if tag == "P" {
			continue
		}
		out = append(out, d.emit())
	}
	return out
}

// flush returns a trailing partial line, if any.
func (d *criDecoder) flush() []string {
	if !d.pending {
		return nil
	}
	return []string{d.emit()}
}

func (d *criDecoder) emit() string {
	line := d.partial.String() + "\n"
	if d.timestamps {
		line = d.partialTS + " " + line
	}
	d.partial.Reset()
	d.pending = false
	return line
}

func statusLine(code int) string {
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

func textResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode:    code,
		Status:        statusLine(code),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}
