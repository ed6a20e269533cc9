package n8n

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/project-builder/internal/errors"
	"github.com/p-blackswan/project-builder/internal/requestid"
	"github.com/p-blackswan/project-builder/internal/retry"
)

type recordingObserver struct {
	endpoint string
	ok       bool
	calls    int
}

func (r *recordingObserver) ObserveWebhook(endpoint string, ok bool, _ float64) {
	r.endpoint, r.ok = endpoint, ok
	r.calls++
}

func newTestClient(url string) *Client {
	c := NewClient(url, 5*time.Second, zerolog.Nop())
	c.SetRetry(retry.Config{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	return c
}

func TestCall_Success(t *testing.T) {
	var gotPath, gotReqID string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotReqID = r.Header.Get(requestid.Header)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"case_number":"TF-42","catchy_case_id":"bmw-neon","slack_channel":"#tf-bmw","nextcloud_folder":"/Cases/TF-42"}`))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c := newTestClient(srv.URL + "/")
	c.SetObserver(obs)

	ctx := requestid.WithRequestID(context.Background(), "req-1")
	resp, err := c.TriggerBriefIntake(ctx, map[string]any{"projectId": "P1"})
	require.NoError(t, err)

	assert.Equal(t, EndpointBriefIntake, gotPath)
	assert.Equal(t, "req-1", gotReqID)
	assert.Equal(t, "P1", gotBody["projectId"])
	assert.True(t, resp.Success)
	assert.Equal(t, "TF-42", resp.CaseNumber)
	assert.Equal(t, "bmw-neon", resp.CatchyCaseID)
	assert.Equal(t, "#tf-bmw", resp.SlackChannel)
	assert.Equal(t, "/Cases/TF-42", resp.NextcloudFolder)
	assert.Equal(t, 1, resp.Attempts)
	assert.Equal(t, 1, obs.calls)
	assert.True(t, obs.ok)
	assert.Equal(t, EndpointBriefIntake, obs.endpoint)
}

func TestCall_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"success":true,"slack_channel":"#tf-audi"}]`))
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).TriggerSync(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, "#tf-audi", resp.SlackChannel)
}

func TestCall_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("webhook not registered"))
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	c := newTestClient(srv.URL)
	c.SetObserver(obs)
	resp, err := c.TriggerSync(context.Background(), map[string]any{})
	require.Error(t, err)

	assert.Equal(t, int32(1), calls.Load())
	assert.False(t, resp.Success)
	assert.Equal(t, "Webhook failed with status 404: webhook not registered", resp.Error)
	assert.True(t, perrors.IsUpstream(err))
	assert.False(t, obs.ok)
}

func TestCall_ExhaustedRetriesReportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	resp, err := newTestClient(srv.URL).TriggerBriefIntake(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.True(t, perrors.IsRetryable(err))
	assert.False(t, resp.Success)
	assert.Equal(t, 3, resp.Attempts)
}

func TestCall_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := newTestClient(url)
	c.SetRetry(retry.Config{MaxAttempts: 1})
	resp, err := c.TriggerSync(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrUnavailable)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestParseResponse(t *testing.T) {
	r, err := parseResponse(nil)
	require.NoError(t, err)
	assert.True(t, r.Success)

	r, err = parseResponse([]byte(`{"success":false,"error":"channel exists"}`))
	require.Error(t, err)
	assert.False(t, r.Success)
	assert.Equal(t, "channel exists", r.Error)
	assert.False(t, perrors.IsRetryable(err))

	r, err = parseResponse([]byte(`{"slack":{"channel_name":"#tf-x"},"nextcloud":{"folder_path":"/x"}}`))
	require.NoError(t, err)
	assert.Equal(t, "#tf-x", r.SlackChannel)
	assert.Equal(t, "/x", r.NextcloudFolder)

	_, err = parseResponse([]byte(`<html>bad gateway</html>`))
	require.Error(t, err)
}
