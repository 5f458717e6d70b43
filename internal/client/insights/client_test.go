package insights

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func TestSubmitReportSynchronousInsights(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, submitPath, r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, float64(7), body["course_id"])
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"success":true,"insights":{"summary":"steady progress"}}`))
	})

	resp, err := c.SubmitReport(context.Background(), map[string]interface{}{"course_id": 7})
	require.NoError(t, err)
	assert.True(t, resp.Accepted())
	assert.Equal(t, KindInsights, resp.Kind)
	assert.Equal(t, "steady progress", resp.Insights["summary"])
}

func TestSubmitReportAsyncJob(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"success":true,"job_id":"job-9","status":"queued"}`))
	})

	resp, err := c.SubmitReport(context.Background(), map[string]int{"course_id": 7})
	require.NoError(t, err)
	assert.True(t, resp.Accepted())
	assert.Equal(t, KindAsyncJob, resp.Kind)
	require.NotNil(t, resp.Job)
	assert.Equal(t, "job-9", resp.Job.ID)
}

func TestSubmitReportClientError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"success":false,"error":{"code":"invalid_payload","message":"students must not be empty"}}`))
	})

	resp, err := c.SubmitReport(context.Background(), map[string]int{})
	require.NoError(t, err)
	assert.False(t, resp.Accepted())
	assert.Equal(t, KindError, resp.Kind)
	assert.Equal(t, "students must not be empty", resp.ErrorMessage())
}

func TestSubmitReportServerErrorWithoutJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	resp, err := c.SubmitReport(context.Background(), map[string]int{})
	require.NoError(t, err)
	assert.Equal(t, KindError, resp.Kind)
	assert.Equal(t, "HTTP 503 Service Unavailable", resp.ErrorMessage())
}

func TestSubmitReportServerErrorKeepsRunesWhole(t *testing.T) {
	// 3-byte runes: 200 is not a multiple of 3.
	body := strings.Repeat("服务不可用", 30)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(body))
	})

	resp, err := c.SubmitReport(context.Background(), map[string]int{})
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	msg := resp.Error.Message
	assert.True(t, utf8.ValidString(msg))
	assert.LessOrEqual(t, len(msg), 200)
	assert.Equal(t, 198, len(msg))
	assert.True(t, strings.HasPrefix(body, msg))
}

func TestTruncateUTF8(t *testing.T) {
	assert.Equal(t, "abc", truncateUTF8("abc", 5))
	assert.Equal(t, "ab", truncateUTF8("abc", 2))
	assert.Equal(t, "a", truncateUTF8("aé", 2))
	assert.Equal(t, "", truncateUTF8("é", 1))
}

func TestSubmitReportSuccessStatusWithoutFlag(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success":false,"message":"quota exceeded"}`))
	})

	resp, err := c.SubmitReport(context.Background(), map[string]int{})
	require.NoError(t, err)
	assert.False(t, resp.Accepted())
	assert.Equal(t, "quota exceeded", resp.ErrorMessage())
}

func TestSubmitReportMalformedSuccessBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>ok</html>`))
	})

	_, err := c.SubmitReport(context.Background(), map[string]int{})
	require.Error(t, err)
}

func TestSubmitReportTransportError(t *testing.T) {
	c, err := New(Options{BaseURL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.SubmitReport(context.Background(), map[string]int{})
	require.Error(t, err)
}

func TestPollStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, jobsPath+"job-9", r.URL.Path)
		_, _ = w.Write([]byte(`{"success":true,"status":"completed","insights":{"at_risk":["abc"]}}`))
	})

	resp, err := c.PollStatus(context.Background(), "job-9")
	require.NoError(t, err)
	assert.Equal(t, KindInsights, resp.Kind)

	_, err = c.PollStatus(context.Background(), " ")
	require.Error(t, err)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
