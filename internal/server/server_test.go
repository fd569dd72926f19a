package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/manisharma/pod-log-streamer/internal"
	"github.com/manisharma/pod-log-streamer/internal/grouping"
	"github.com/manisharma/pod-log-streamer/internal/proxy"
	"github.com/rs/zerolog"
)

type fakeLogs struct {
	podOpts    internal.PodLogsOptions
	deployOpts internal.DeploymentLogsOptions
	text       string
	chunks     []string
	err        error
	deployment *internal.DeploymentLogs
	groups     []*grouping.Group
}

func (f *fakeLogs) GetPodLogs(ctx context.Context, opts internal.PodLogsOptions) (string, error) {
	f.podOpts = opts
	return f.text, f.err
}

func (f *fakeLogs) StreamPodLogs(ctx context.Context, opts internal.PodLogsOptions, onChunk func(string)) error {
	f.podOpts = opts
	for _, c := range f.chunks {
		onChunk(c)
	}
	return f.err
}

func (f *fakeLogs) GetDeploymentLogs(ctx context.Context, opts internal.DeploymentLogsOptions) (*internal.DeploymentLogs, error) {
	f.deployOpts = opts
	return f.deployment, f.err
}

func (f *fakeLogs) Groups(ctx context.Context, cluster, namespace, selector string) ([]*grouping.Group, error) {
	return f.groups, f.err
}

func serve(t *testing.T, logs Logs, target string) *httptest.ResponseRecorder {
	t.Helper()
	e := BuildServer(logs, zerolog.Nop())
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	rec := serve(t, &fakeLogs{}, "/healthz")
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestPodLogHandler(t *testing.T) {
	for name, testcase := range map[string]struct {
		target   string
		logs     *fakeLogs
		wantCode int
		wantBody string
		wantOpts internal.PodLogsOptions
	}{
		"one-shot with defaults": {
			target:   "/api/v1/clusters/dev/namespaces/shop/pods/api-1/log",
			logs:     &fakeLogs{text: "hello\n"},
			wantCode: http.StatusOK,
			wantBody: "hello\n",
			wantOpts: internal.PodLogsOptions{ClusterName: "dev", Namespace: "shop", PodName: "api-1"},
		},
		"one-shot with parameters": {
			target:   "/api/v1/clusters/dev/namespaces/shop/pods/api-1/log?container=app&timestamps=false&tailLines=5",
			logs:     &fakeLogs{text: "x"},
			wantCode: http.StatusOK,
			wantBody: "x",
			wantOpts: internal.PodLogsOptions{
				ClusterName: "dev", Namespace: "shop", PodName: "api-1", ContainerName: "app",
				Timestamps: ptr(false), TailLines: ptr(5),
			},
		},
		"follow": {
			target:   "/api/v1/clusters/dev/namespaces/shop/pods/api-1/log?follow=true",
			logs:     &fakeLogs{chunks: []string{"a\n", "b\n"}},
			wantCode: http.StatusOK,
			wantBody: "a\nb\n",
			wantOpts: internal.PodLogsOptions{ClusterName: "dev", Namespace: "shop", PodName: "api-1"},
		},
		"follow failing before any chunk": {
			target:   "/api/v1/clusters/dev/namespaces/shop/pods/api-1/log?follow=true",
			logs:     &fakeLogs{err: &internal.PodError{Pod: "api-1", Message: "Failed to fetch logs: 404 Not Found - gone"}},
			wantCode: http.StatusBadGateway,
			wantBody: `{"message":"Failed to fetch logs: 404 Not Found - gone"}` + "\n",
			wantOpts: internal.PodLogsOptions{ClusterName: "dev", Namespace: "shop", PodName: "api-1"},
		},
		"unknown cluster": {
			target:   "/api/v1/clusters/prod/namespaces/shop/pods/api-1/log",
			logs:     &fakeLogs{err: errors.Join(errors.New("prod"), proxy.ErrUnknownCluster)},
			wantCode: http.StatusNotFound,
			wantBody: `{"message":"prod\nunknown cluster"}` + "\n",
			wantOpts: internal.PodLogsOptions{ClusterName: "prod", Namespace: "shop", PodName: "api-1"},
		},
	} {
		t.Run(name, func(t *testing.T) {
			rec := serve(t, testcase.logs, testcase.target)
			if rec.Code != testcase.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, testcase.wantCode)
			}
			if diff := cmp.Diff(testcase.wantBody, rec.Body.String()); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(testcase.wantOpts, testcase.logs.podOpts); diff != "" {
				t.Errorf("options mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBadQuery(t *testing.T) {
	for _, target := range []string{
		"/api/v1/clusters/dev/namespaces/shop/pods/api-1/log?tailLines=many",
		"/api/v1/clusters/dev/namespaces/shop/pods/api-1/log?tailLines=-3",
		"/api/v1/clusters/dev/namespaces/shop/pods/api-1/log?follow=maybe",
		"/api/v1/clusters/dev/namespaces/shop/deployments/api/logs?maxPods=ten",
	} {
		if rec := serve(t, &fakeLogs{}, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d", target, rec.Code)
		}
	}
}

func TestDeploymentLogsHandler(t *testing.T) {
	logs := &fakeLogs{deployment: &internal.DeploymentLogs{
		Pods:    []grouping.PodDescriptor{{Name: "api-1", Namespace: "shop"}},
		Logs:    map[string]string{"api-1": "hello\n"},
		Errors:  map[string]string{},
		Dropped: 2,
	}}
	rec := serve(t, logs, "/api/v1/clusters/dev/namespaces/shop/deployments/api/logs?maxPods=1&tailLines=50")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var got internal.DeploymentLogs
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(*logs.deployment, got); diff != "" {
		t.Errorf("body mismatch (-want +got):\n%s", diff)
	}
	wantOpts := internal.DeploymentLogsOptions{ClusterName: "dev", Namespace: "shop", DeploymentName: "api", TailLines: ptr(50), MaxPods: 1}
	if diff := cmp.Diff(wantOpts, logs.deployOpts); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}

	missing := &fakeLogs{err: errors.Join(errors.New("shop/api"), internal.ErrDeploymentNotFound)}
	if rec := serve(t, missing, "/api/v1/clusters/dev/namespaces/shop/deployments/api/logs"); rec.Code != http.StatusNotFound {
		t.Errorf("missing deployment status = %d", rec.Code)
	}
}

func TestGroupsHandler(t *testing.T) {
	logs := &fakeLogs{groups: []*grouping.Group{
		{Key: "api", Kind: grouping.KindDeployment, Pods: []grouping.PodDescriptor{{Name: "api-1"}}},
	}}
	rec := serve(t, logs, "/api/v1/clusters/dev/namespaces/shop/groups")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0]["groupKey"] != "api" || got[0]["kind"] != "Deployment" {
		t.Errorf("groups = %v", got)
	}
}

func ptr[T any](v T) *T { return &v }
