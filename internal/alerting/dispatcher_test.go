package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "tradewatch/internal/errors"
	"tradewatch/internal/testutils"
	"tradewatch/internal/types"
)

func testEvent(kind types.EventKind, level types.Level) types.Event {
	return types.Event{
		Kind: kind,
		Alert: &types.Alert{
			ID:        "alert-1",
			Component: "database",
			AlertType: "health_check_failed",
			Level:     level,
			Message:   "connection refused",
			Active:    kind != types.EventResolved,
		},
		Timestamp: time.Now(),
	}
}

func collectResults(t *testing.T, d *Dispatcher, n int) []Result {
	t.Helper()
	var out []Result
	timeout := time.After(2 * time.Second)
	for len(out) < n {
		select {
		case r, ok := <-d.Results():
			if !ok {
				return out
			}
			out = append(out, r)
		case <-timeout:
			t.Fatalf("expected %d results, got %d", n, len(out))
		}
	}
	return out
}

func TestDispatcherIsolatesFailingHandlers(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	d := NewDispatcher(Config{Workers: 2, QueueSize: 8, HandlerTimeout: time.Second}, suite.Logger, nil)
	defer d.Close()

	var delivered atomic.Int32
	d.Register(HandlerFunc("broken", func(ctx context.Context, ev types.Event) error {
		return errors.New("smtp down")
	}))
	d.Register(HandlerFunc("panicky", func(ctx context.Context, ev types.Event) error {
		panic("nil pointer")
	}))
	d.Register(HandlerFunc("ok", func(ctx context.Context, ev types.Event) error {
		delivered.Add(1)
		return nil
	}))

	require.NoError(t, d.Dispatch(testEvent(types.EventRaised, types.LevelCritical)))

	byName := make(map[string]Result)
	for _, r := range collectResults(t, d, 3) {
		byName[r.Handler] = r
	}
	assert.Equal(t, int32(1), delivered.Load())
	assert.NoError(t, byName["ok"].Err)
	assert.True(t, apperrors.HasCode(byName["broken"].Err, apperrors.ErrCodeNotificationFailure))
	assert.Contains(t, byName["panicky"].Err.Error(), "nil pointer")
	assert.Equal(t, "alert-1", byName["ok"].AlertID)
}

func TestDispatcherDoesNotBlockOnSlowHandlers(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	release := make(chan struct{})
	d := NewDispatcher(Config{Workers: 1, QueueSize: 2, HandlerTimeout: 50 * time.Millisecond}, suite.Logger, nil)
	d.Register(HandlerFunc("stuck", func(ctx context.Context, ev types.Event) error {
		<-release
		return nil
	}))

	start := time.Now()
	for i := 0; i < 10; i++ {
		_ = d.Dispatch(testEvent(types.EventRaised, types.LevelWarning))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)

	r := collectResults(t, d, 1)[0]
	assert.ErrorIs(t, r.Err, context.DeadlineExceeded)

	close(release)
	d.Close()
}

func TestDispatcherQueueFull(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	release := make(chan struct{})
	d := NewDispatcher(Config{Workers: 1, QueueSize: 1, HandlerTimeout: time.Second}, suite.Logger, nil)
	d.Register(HandlerFunc("stuck", func(ctx context.Context, ev types.Event) error {
		<-release
		return nil
	}))

	var full error
	for i := 0; i < 10 && full == nil; i++ {
		full = d.Dispatch(testEvent(types.EventRaised, types.LevelWarning))
	}
	require.Error(t, full)
	assert.True(t, apperrors.HasCode(full, apperrors.ErrCodeQueueFull))

	close(release)
	d.Close()
}

func TestDispatcherFiltersEvents(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	var mu sync.Mutex
	var kinds []types.EventKind
	d := NewDispatcher(Config{MinLevel: types.LevelError}, suite.Logger, nil)
	d.Register(HandlerFunc("rec", func(ctx context.Context, ev types.Event) error {
		mu.Lock()
		kinds = append(kinds, ev.Kind)
		mu.Unlock()
		return nil
	}))

	require.NoError(t, d.Dispatch(testEvent(types.EventUpdated, types.LevelCritical)))
	require.NoError(t, d.Dispatch(testEvent(types.EventRaised, types.LevelWarning)))
	require.NoError(t, d.Dispatch(testEvent(types.EventEscalated, types.LevelError)))
	require.NoError(t, d.Dispatch(testEvent(types.EventResolved, types.LevelCritical)))
	d.Close()

	assert.ElementsMatch(t, []types.EventKind{types.EventEscalated, types.EventResolved}, kinds)
	assert.Error(t, d.Dispatch(testEvent(types.EventRaised, types.LevelCritical)))
}

func TestDispatcherRateLimit(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	var calls atomic.Int32
	d := NewDispatcher(Config{Workers: 1, RateLimit: 0.001, RateBurst: 1}, suite.Logger, nil)
	d.Register(HandlerFunc("limited", func(ctx context.Context, ev types.Event) error {
		calls.Add(1)
		return nil
	}))

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Dispatch(testEvent(types.EventRaised, types.LevelCritical)))
	}
	results := collectResults(t, d, 3)
	d.Close()

	limited := 0
	for _, r := range results {
		if apperrors.HasCode(r.Err, apperrors.ErrCodeRateLimit) {
			limited++
		}
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 2, limited)
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	suite := testutils.NewTestSuite(t, nil)
	defer suite.TearDown()

	var calls atomic.Int32
	d := NewDispatcher(Config{Workers: 2, QueueSize: 16}, suite.Logger, nil)
	d.Register(HandlerFunc("count", func(ctx context.Context, ev types.Event) error {
		time.Sleep(5 * time.Millisecond)
		calls.Add(1)
		return nil
	}))
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Dispatch(testEvent(types.EventRaised, types.LevelInfo)))
	}
	d.Close()
	d.Close()
	assert.Equal(t, int32(10), calls.Load())
	assert.Equal(t, []string{"count"}, d.Handlers())
}

func TestWebhookChannelSignsPayload(t *testing.T) {
	var got Payload
	var signature, ts string
	var raw []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ = io.ReadAll(r.Body)
		signature = r.Header.Get("X-Tradewatch-Signature")
		ts = r.Header.Get("X-Tradewatch-Timestamp")
		_ = json.Unmarshal(raw, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ch := NewWebhookChannel(srv.URL, "s3cret", nil)
	require.NoError(t, ch.Notify(context.Background(), testEvent(types.EventRaised, types.LevelCritical)))

	assert.Equal(t, types.EventRaised, got.Event)
	assert.Equal(t, "database", got.Alert.Component)
	assert.Equal(t, Sign("s3cret", ts, raw), signature)
}

func TestWebhookChannelRejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewWebhookChannel(srv.URL, "", nil).Notify(context.Background(), testEvent(types.EventRaised, types.LevelCritical))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func TestEmailChannelBuildsMessage(t *testing.T) {
	ses := &fakeSES{}
	ch := NewEmailChannel(ses, "alerts@example.com", []string{"oncall@example.com"})
	require.NoError(t, ch.Notify(context.Background(), testEvent(types.EventRaised, types.LevelCritical)))

	require.NotNil(t, ses.input)
	assert.Equal(t, "alerts@example.com", aws.ToString(ses.input.FromEmailAddress))
	assert.Equal(t, []string{"oncall@example.com"}, ses.input.Destination.ToAddresses)
	assert.Equal(t, "[CRITICAL] RAISED database/health_check_failed", aws.ToString(ses.input.Content.Simple.Subject.Data))
	assert.Contains(t, aws.ToString(ses.input.Content.Simple.Body.Text.Data), "connection refused")

	ses.err = errors.New("throttled")
	assert.Error(t, ch.Notify(context.Background(), testEvent(types.EventRaised, types.LevelCritical)))
	assert.Error(t, NewEmailChannel(ses, "a@example.com", nil).Notify(context.Background(), testEvent(types.EventRaised, types.LevelCritical)))
}

func TestLogChannelWritesEvent(t *testing.T) {
	var buf bytes.Buffer
	suite := testutils.NewTestSuite(t, &testutils.TestConfig{LogLevel: "info", LogOutput: &buf})
	defer suite.TearDown()

	require.NoError(t, NewLogChannel(suite.Logger).Notify(context.Background(), testEvent(types.EventRaised, types.LevelCritical)))
	assert.Contains(t, buf.String(), "database/health_check_failed")
}
