package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/manisharma/pod-log-streamer/internal/grouping"
	"github.com/manisharma/pod-log-streamer/pkg/core/object"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pls.yaml")
	file := `
proxyMode: backend
backendURL: https://portal.example.com/api/kubernetes/proxy
clusters:
  dev: kind-dev
maxPods: 4
namespacesToExclude: [kube-system]
`
	if err := os.WriteFile(path, []byte(file), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PLS_TAILLINES", "50")

	fs := pflag.NewFlagSet("pls", pflag.ContinueOnError)
	fs.String("config", "", "")
	fs.Int("maxPods", 10, "")
	fs.Int("tailLines", 1000, "")
	fs.Bool("timestamps", true, "")
	if err := fs.Parse([]string{"--config", path, "--timestamps=false"}); err != nil {
		t.Fatal(err)
	}

	got, err := loadConfig(viper.New(), fs)
	if err != nil {
		t.Fatal(err)
	}
	want := object.Defaults()
	want.ProxyMode = object.ProxyModeBackend
	want.BackendURL = "https://portal.example.com/api/kubernetes/proxy"
	want.Clusters = map[string]string{"dev": "kind-dev"}
	want.MaxPods = 4
	want.NamespacesToExclude = object.SliceFlag{"kube-system"}
	want.TailLines = 50
	want.Timestamps = false
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	fs := pflag.NewFlagSet("pls", pflag.ContinueOnError)
	fs.String("config", "", "")
	if err := fs.Parse([]string{"--config", filepath.Join(t.TempDir(), "absent.yaml")}); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(viper.New(), fs); err == nil {
		t.Error("expected an error for a missing explicit config file")
	}
}

func TestPrintGroups(t *testing.T) {
	groups := []*grouping.Group{
		{Key: "api", Kind: grouping.KindDeployment, Pods: []grouping.PodDescriptor{{Name: "api-1", Namespace: "shop"}, {Name: "api-2", Namespace: "shop"}}},
		{Key: "standalone", Kind: grouping.KindStandalone, Pods: []grouping.PodDescriptor{{Name: "debug", Namespace: "shop"}}},
	}
	for format, want := range map[string][]string{
		"json":  {`"groupKey": "api"`, `"name": "debug"`},
		"yaml":  {"groupKey: api", "kind: Deployment", "- name: debug"},
		"table": {"GROUP", "api-1, api-2", "standalone"},
	} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := printGroups(&buf, format, groups); err != nil {
				t.Fatal(err)
			}
			for _, w := range want {
				if !strings.Contains(buf.String(), w) {
					t.Errorf("output lacks %q:\n%s", w, buf.String())
				}
			}
		})
	}
}

func TestPodLinesFlushInFirstSeenOrder(t *testing.T) {
	lines := newPodLines()
	var got []string
	emit := func(pod, line string) { got = append(got, pod+": "+line) }

	for _, c := range []struct{ pod, chunk string }{
		{"web-2", "start"},
		{"web-0", "ready\npart"},
		{"web-1", "tail"},
		{"web-2", "ed\nmore"},
	} {
		lines.push(c.pod, c.chunk, emit)
	}
	lines.flush(emit)

	want := []string{
		"web-0: ready",
		"web-2: started",
		"web-2: more",
		"web-0: part",
		"web-1: tail",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestTheme(t *testing.T) {
	if th, err := theme("never"); err != nil || !th.NoColor {
		t.Errorf("theme(never) = %+v, %v", th.NoColor, err)
	}
	if _, err := theme("sometimes"); err == nil {
		t.Error("expected an error for an unknown color mode")
	}
}
