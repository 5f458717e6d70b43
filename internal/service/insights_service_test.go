package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-insights-bridge/internal/client/insights"
	"github.com/noah-isme/course-insights-bridge/internal/models"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
)

type memoryCache struct {
	mu     sync.Mutex
	values map[string][]byte
	getErr error
}

func newMemoryCache() *memoryCache {
	return &memoryCache{values: map[string][]byte{}}
}

func (m *memoryCache) Get(_ context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = raw
	return nil
}

func (m *memoryCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

type pollerStub struct {
	resp  *insights.Response
	err   error
	jobID string
}

func (p *pollerStub) PollStatus(_ context.Context, jobID string) (*insights.Response, error) {
	p.jobID = jobID
	return p.resp, p.err
}

func TestCacheServiceHitMissAndInvalidate(t *testing.T) {
	store := newMemoryCache()
	svc := NewCacheService(store, NewMetricsService(), time.Hour, nil, true)
	ctx := context.Background()

	var dest map[string]int
	hit, err := svc.Get(ctx, "k", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "k", map[string]int{"a": 1}, 0))
	hit, err = svc.Get(ctx, "k", &dest)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 1, dest["a"])

	require.NoError(t, svc.Invalidate(ctx, "k"))
	hit, err = svc.Get(ctx, "k", &dest)
	require.NoError(t, err)
	assert.False(t, hit)

	store.getErr = errors.New("redis down")
	_, err = svc.Get(ctx, "k", &dest)
	require.Error(t, err)
}

func TestCacheServiceDisabled(t *testing.T) {
	svc := NewCacheService(newMemoryCache(), nil, 0, nil, false)
	assert.False(t, svc.Enabled())
	require.NoError(t, svc.Set(context.Background(), "k", 1, 0))
	hit, err := svc.Get(context.Background(), "k", new(int))
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestInsightsServiceLatest(t *testing.T) {
	cache := NewCacheService(newMemoryCache(), nil, time.Hour, nil, true)
	svc := NewInsightsService(cache, &pollerStub{}, newReportQueryStub(), time.Hour, nil)
	ctx := context.Background()

	_, err := svc.Latest(ctx, 7)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	require.NoError(t, svc.StoreLatest(ctx, 7, LatestInsights{ReportID: "r1", CourseID: 7, Insights: insights.Insights{"summary": "ok"}}))
	latest, err := svc.Latest(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "r1", latest.ReportID)
	assert.Equal(t, "ok", latest.Insights["summary"])
}

func TestInsightsServicePoll(t *testing.T) {
	raw := `{"success":true,"job_id":"job-9","status":"queued"}`
	repo := newReportQueryStub(
		models.Report{ID: "r1", CourseID: 7, Status: models.ReportStatusSent, ResponseData: &raw},
		models.Report{ID: "r2", CourseID: 7, Status: models.ReportStatusFailed},
	)
	cache := NewCacheService(newMemoryCache(), nil, time.Hour, nil, true)
	poller := &pollerStub{resp: &insights.Response{StatusCode: http.StatusOK, Success: true, Kind: insights.KindAsyncJob, Job: &insights.AsyncJob{ID: "job-9"}}}
	svc := NewInsightsService(cache, poller, repo, time.Hour, nil)
	ctx := context.Background()

	pending, err := svc.Poll(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, pending.Pending)
	assert.Equal(t, "job-9", poller.jobID)
	_, err = svc.Latest(ctx, 7)
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	poller.resp = &insights.Response{StatusCode: http.StatusOK, Success: true, Kind: insights.KindInsights, Insights: insights.Insights{"at_risk": 2.0}}
	ready, err := svc.Poll(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ready.Pending)
	latest, err := svc.Latest(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2.0, latest.Insights["at_risk"])

	_, err = svc.Poll(ctx, "r2")
	require.ErrorIs(t, err, appErrors.ErrValidation)
	_, err = svc.Poll(ctx, "missing")
	require.ErrorIs(t, err, appErrors.ErrNotFound)

	poller.err = errors.New("timeout")
	_, err = svc.Poll(ctx, "r1")
	require.ErrorIs(t, err, appErrors.ErrDeliveryFailed)
}
