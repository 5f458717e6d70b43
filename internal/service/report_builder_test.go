package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/course-insights-bridge/internal/models"
	appErrors "github.com/noah-isme/course-insights-bridge/pkg/errors"
)

type sinkStub struct {
	mu     sync.Mutex
	stored []LatestInsights
}

func (s *sinkStub) StoreLatest(_ context.Context, _ int64, latest LatestInsights) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, latest)
	return nil
}

type builderFixture struct {
	source  *factSourceStub
	store   *reportStoreStub
	channel *channelStub
	sleeper *sleepRecorder
	pauses  *sleepRecorder
	sink    *sinkStub
	builder *ReportBuilder
}

func newBuilderFixture(t *testing.T, batchSize int, replies ...channelReply) *builderFixture {
	t.Helper()
	if len(replies) == 0 {
		replies = []channelReply{accepted()}
	}
	f := &builderFixture{
		source:  newFactSourceStub(),
		store:   newReportStoreStub(),
		channel: &channelStub{replies: replies},
		sleeper: &sleepRecorder{},
		pauses:  &sleepRecorder{},
		sink:    &sinkStub{},
	}
	calc := newTestCalculator(f.source)
	delivery := newTestDelivery(f.channel, f.store, f.sleeper)
	f.builder = NewReportBuilder(f.source, f.store, NewAnonymizer(&fixedSalt{salt: "pepper"}), calc, delivery, f.sink, nil, ReportBuilderConfig{
		BatchSize:  batchSize,
		BatchPause: 100 * time.Millisecond,
		Sleep:      f.pauses.Sleep,
		Now:        func() time.Time { return testNow },
	}, nil)
	return f
}

func (f *builderFixture) enroll(n int) {
	for i := 1; i <= n; i++ {
		id := int64(i)
		f.source.roster = append(f.source.roster, models.Subject{ID: id, EnrolledAt: testNow.AddDate(0, -2, 0)})
		last := testNow.Add(-time.Duration(i%20) * 24 * time.Hour)
		f.source.subjects[id] = &subjectFixture{
			activity:   &models.ActivityFacts{Logins: i % 12, Views: i, Creates: 1, LastAccess: &last},
			grades:     &models.GradeFacts{FinalGrade: floatPtr(float64(30 + i%70)), MaxGrade: 100, ItemPercents: []float64{60}},
			completion: &models.CompletionFacts{Completed: i % 5, Total: 4},
			stamps:     []time.Time{testNow.Add(-time.Duration(i) * time.Hour)},
		}
		f.source.cohort = append(f.source.cohort, float64(30+i%70))
	}
}

func (f *builderFixture) payload(t *testing.T) *models.ReportPayload {
	t.Helper()
	require.NotEmpty(t, f.channel.payloads)
	return f.channel.payloads[len(f.channel.payloads)-1]
}

func buildRequest() BuildRequest {
	return BuildRequest{
		CourseID:    7,
		ReportType:  models.ReportTypeScheduled,
		TriggerType: models.TriggerCron,
		DateFrom:    testNow.AddDate(0, 0, -30),
		DateTo:      testNow,
	}
}

func TestBuildAndSendDeliversReport(t *testing.T) {
	f := newBuilderFixture(t, 50)
	f.enroll(3)

	result, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.NotEmpty(t, result.ReportID)
	assert.Equal(t, models.ReportStatusSent, result.Status)
	assert.Equal(t, "ok", result.Insights["summary"])

	payload := f.payload(t)
	assert.Equal(t, int64(7), payload.Course.ID)
	assert.Equal(t, result.ReportID, payload.Metadata.ReportID)
	assert.Equal(t, models.PayloadSchemaVersion, payload.Metadata.SchemaVersion)
	assert.Equal(t, 3, payload.Summary.TotalEnrolled)
	assert.Equal(t, 3, payload.Summary.ReportedStudents)
	assert.Zero(t, payload.Summary.SkippedStudents)
	assert.Equal(t, 3, payload.AggregatedInsights.TotalStudents)
	for _, student := range payload.Students {
		assert.True(t, IsPseudonymShaped(student.PseudonymID))
		assert.NotEmpty(t, student.Timeline)
	}

	stored := f.store.stored(result.ReportID)
	assert.Equal(t, models.ReportStatusSent, stored.Status)
	assert.Equal(t, 3, stored.SubjectCount)
	// Views 1+2+3 plus one create each.
	assert.Equal(t, 9, stored.ActivityCount)
	assert.Equal(t, payload.Summary.TotalActivity, stored.ActivityCount)

	require.Len(t, f.sink.stored, 1)
	assert.Equal(t, result.ReportID, f.sink.stored[0].ReportID)
	assert.False(t, f.sink.stored[0].Pending)
}

func TestBuildAndSendEmptyRoster(t *testing.T) {
	f := newBuilderFixture(t, 50)

	result, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, appErrors.ErrEmptyRoster.Message, result.Message)
	assert.Zero(t, f.channel.callCount())

	stored := f.store.stored(result.ReportID)
	assert.Equal(t, models.ReportStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, []models.ReportStatus{models.ReportStatusPending, models.ReportStatusFailed}, f.store.statuses)
}

func TestBuildAndSendRosterFailure(t *testing.T) {
	f := newBuilderFixture(t, 50)
	f.source.rosterErr = errors.New("db down")

	result, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, models.ReportStatusFailed, f.store.stored(result.ReportID).Status)
}

func TestBuildAndSendCreateFailure(t *testing.T) {
	f := newBuilderFixture(t, 50)
	f.store.createErr = errors.New("insert failed")

	result, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.Error(t, err)
	assert.Nil(t, result)
}

func TestBuildAndSendIsolatesFailingStudent(t *testing.T) {
	f := newBuilderFixture(t, 50)
	f.enroll(5)
	f.source.subjects[3].panics = true

	result, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)

	payload := f.payload(t)
	assert.Len(t, payload.Students, 4)
	assert.Equal(t, 1, payload.Summary.SkippedStudents)
	assert.Equal(t, 4, f.store.stored(result.ReportID).SubjectCount)
}

func TestBuildAndSendDropsStudentWithoutTimeline(t *testing.T) {
	f := newBuilderFixture(t, 50)
	f.enroll(4)
	f.source.subjects[2].failing = map[string]bool{"timestamps": true}
	f.source.subjects[4].failing = map[string]bool{"forum": true}

	result, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	// A failing timeline drops the student; a failing fact category only degrades it.
	assert.Len(t, f.payload(t).Students, 3)
}

func TestBuildAndSendAllStudentsFail(t *testing.T) {
	f := newBuilderFixture(t, 50)
	f.enroll(2)
	for _, s := range f.source.subjects {
		s.panics = true
	}

	result, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Zero(t, f.channel.callCount())
	assert.Equal(t, models.ReportStatusFailed, f.store.stored(result.ReportID).Status)
}

func TestBuildAndSendBatchingMatchesSequential(t *testing.T) {
	sequential := newBuilderFixture(t, 1000)
	sequential.enroll(120)
	batched := newBuilderFixture(t, 50)
	batched.enroll(120)

	_, err := sequential.builder.BuildAndSend(context.Background(), buildRequest())
	require.NoError(t, err)
	_, err = batched.builder.BuildAndSend(context.Background(), buildRequest())
	require.NoError(t, err)

	assert.Empty(t, sequential.pauses.delays)
	// 120 students in chunks of 50: two pauses between three batches.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 100 * time.Millisecond}, batched.pauses.delays)

	byID := func(students []models.SubjectBundle) []models.SubjectBundle {
		out := append([]models.SubjectBundle(nil), students...)
		sort.Slice(out, func(i, j int) bool { return out[i].PseudonymID < out[j].PseudonymID })
		return out
	}
	seqPayload, batchPayload := sequential.payload(t), batched.payload(t)
	require.Len(t, batchPayload.Students, 120)
	assert.Equal(t, byID(seqPayload.Students), byID(batchPayload.Students))
	assert.Equal(t, seqPayload.AggregatedInsights, batchPayload.AggregatedInsights)
	assert.Equal(t, seqPayload.CompletionStats, batchPayload.CompletionStats)
}

func TestBuildAndSendBatchThreshold(t *testing.T) {
	f := newBuilderFixture(t, 50)
	f.enroll(50)

	_, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.NoError(t, err)
	// Exactly one full batch: no pause needed.
	assert.Empty(t, f.pauses.delays)
	assert.Len(t, f.payload(t).Students, 50)
}

func TestBuildAndSendRetriesThenSucceeds(t *testing.T) {
	f := newBuilderFixture(t, 50, unavailable(), unavailable(), accepted())
	f.enroll(2)

	result, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 3, f.channel.callCount())
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, f.sleeper.delays)
	assert.Equal(t, models.ReportStatusSent, f.store.stored(result.ReportID).Status)
}

func TestBuildAndSendClientError(t *testing.T) {
	f := newBuilderFixture(t, 50, rejected("course_id is required"))
	f.enroll(2)

	result, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "course_id is required", result.Message)
	assert.Equal(t, 1, f.channel.callCount())

	stored := f.store.stored(result.ReportID)
	assert.Equal(t, models.ReportStatusFailed, stored.Status)
	assert.Equal(t, "course_id is required", *stored.ErrorMessage)
	assert.Empty(t, f.sink.stored)
}

func TestBuildAndSendChannelErrorSurfaces(t *testing.T) {
	f := newBuilderFixture(t, 50, channelReply{err: errors.New("dial tcp: connection refused")})
	f.enroll(1)

	result, err := f.builder.BuildAndSend(context.Background(), buildRequest())
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success)
	assert.Equal(t, models.ReportStatusFailed, result.Status)
	assert.Equal(t, 3, f.channel.callCount())
}

func TestBuildAndSendDefaultsWindow(t *testing.T) {
	f := newBuilderFixture(t, 50)
	f.enroll(1)

	_, err := f.builder.BuildAndSend(context.Background(), BuildRequest{CourseID: 7})
	require.NoError(t, err)
	meta := f.payload(t).Metadata
	assert.Equal(t, models.ReportTypeOnDemand, meta.ReportType)
	assert.Equal(t, models.TriggerManual, meta.TriggerType)
	assert.Equal(t, testNow, meta.DateTo)
	assert.Equal(t, testNow.Add(-30*24*time.Hour), meta.DateFrom)
}

func TestChunkSubjects(t *testing.T) {
	subjects := make([]models.Subject, 120)
	chunks := chunkSubjects(subjects, 50)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 50)
	assert.Len(t, chunks[1], 50)
	assert.Len(t, chunks[2], 20)
}
