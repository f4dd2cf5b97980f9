package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/ttm56p/arsenic/pkg/engine"
	"github.com/ttm56p/arsenic/pkg/engine/enginemock"
	apperrors "github.com/ttm56p/arsenic/pkg/errors"
	"github.com/ttm56p/arsenic/pkg/rollback"
	"github.com/ttm56p/arsenic/pkg/telemetry"
	"github.com/ttm56p/arsenic/pkg/webdriver"
)

func TestRun_Version(t *testing.T) {
	var stdout, stderr bytes.Buffer
	require.NoError(t, run([]string{"-version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "arsenicd "+version)
}

func TestRun_BadFlag(t *testing.T) {
	err := run([]string{"-nope"}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.Equal(t, 2, exitCodeForError(err))
}

func TestRun_InvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arsenic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("service:\n  kind: safaridriver\n"), 0o644))

	err := run([]string{"-config", path}, io.Discard, io.Discard)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeConfigInvalid))
	assert.Equal(t, 2, exitCodeForError(err))
}

func TestRun_MissingDriverBinary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arsenic.yaml")
	body := "service:\n  kind: chromedriver\n  binary: /nonexistent/chromedriver\nmetrics:\n  listen: \"\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	var stderr bytes.Buffer
	err := run([]string{"-config", path}, io.Discard, &stderr)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeProcessSpawn))
	assert.Equal(t, 3, exitCodeForError(err))
	assert.Contains(t, stderr.String(), "service failed to start")
}

func TestExitCodeForError(t *testing.T) {
	assert.Equal(t, 0, exitCodeForError(nil))
	assert.Equal(t, 1, exitCodeForError(errors.New("plain")))
	assert.Equal(t, 3, exitCodeForError(apperrors.New(apperrors.ErrCodeServiceStart, "not starting?")))
	assert.Equal(t, 3, exitCodeForError(fmt.Errorf("wrapped: %w", apperrors.Session(errors.New("x")))))
	assert.Equal(t, 7, exitCodeForError(withExitCode(errors.New("x"), 7)))
	assert.Equal(t, 1, exitCodeForError(withExitCode(errors.New("x"), 0)))
	assert.Nil(t, withExitCode(nil, 2))
}

func newTestDriver(t *testing.T, sess engine.Session) *webdriver.Driver {
	t.Helper()
	d := webdriver.New("chromedriver", nil, webdriver.Connection{Session: sess, BaseURL: "http://localhost:9515"}, rollback.New())
	t.Cleanup(func() { _ = d.Close(context.Background()) })
	return d
}

func TestRouter_Driver(t *testing.T) {
	d := newTestDriver(t, nil)
	srv := httptest.NewServer(newRouter(d))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/driver")
	require.NoError(t, err)
	defer resp.Body.Close()

	var body driverResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, d.ID(), body.ID)
	assert.Equal(t, "chromedriver", body.Kind)
	assert.Equal(t, "http://localhost:9515", body.BaseURL)
}

func TestRouter_Health(t *testing.T) {
	ctrl := gomock.NewController(t)
	sess := enginemock.NewMockSession(ctrl)
	sess.EXPECT().Request(gomock.Any(), engine.Request{Method: http.MethodGet, URL: "http://localhost:9515/status"}).
		Return(&engine.Response{StatusCode: http.StatusOK, Body: []byte(`{"value":{"ready":true,"message":"ok"}}`)}, nil)
	sess.EXPECT().Request(gomock.Any(), gomock.Any()).
		Return(nil, apperrors.Request(errors.New("connection refused"), http.MethodGet, "http://localhost:9515/status"))

	d := newTestDriver(t, sess)
	srv := httptest.NewServer(newRouter(d))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	var healthy healthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&healthy))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, healthy.Ready)

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Contains(t, string(data), `"code":"REQUEST"`)
	assert.Contains(t, string(data), `"retryable":true`)
}

func TestRouter_Metrics(t *testing.T) {
	d := newTestDriver(t, nil)
	srv := httptest.NewServer(newRouter(d))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.Contains(string(data), "arsenic_driver_active_total"))
}

func TestServe_StopsOnCancel(t *testing.T) {
	d := newTestDriver(t, nil)
	hub := telemetry.NewHub()
	defer hub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, "127.0.0.1:0", d, hub) }()

	hub.Publish(telemetry.Event{Type: telemetry.EventServiceStarted})
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not stop")
	}
}

func TestServe_ListenFailure(t *testing.T) {
	d := newTestDriver(t, nil)
	hub := telemetry.NewHub()
	defer hub.Close()

	err := serve(context.Background(), "256.0.0.1:99999", d, hub)
	assert.Error(t, err)
}
