package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/pushbot/internal/model"
	"github.com/t77yq/pushbot/internal/testutil"
)

func TestSubjectToken(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"weather", "weather"},
		{"hotsearch-weibo", "hotsearch-weibo"},
		{"a.b c*>", "a_b_c__"},
		{"热搜", "__"},
		{"", "_"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SubjectToken(tt.name))
	}
	assert.Equal(t, "pushbot.result.a_b", ResultSubject("pushbot", "a.b"))
}

func TestResultPublisher_Publish(t *testing.T) {
	// Setup
	_, _, js := testutil.StartJetStream(t)
	publisher, err := NewResultPublisher(js, "pushbot", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, testutil.WaitForStream(t, js, ResultStreamName, 5*time.Second))

	sub, err := js.SubscribeSync("pushbot.result.>", nats.DeliverAll())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	result := model.ExecutionResult{
		ID:          "6f1c2a7e-0000-4000-8000-000000000001",
		TaskName:    "hotsearch weibo",
		AttemptedAt: time.Date(2024, 9, 1, 12, 0, 0, 0, time.UTC),
		Duration:    2 * time.Second,
		Outcome:     model.OutcomeNoData,
		Detail:      "no data available",
	}

	// Test case 1: published on the task subject
	require.NoError(t, publisher.Publish(context.Background(), result))

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "pushbot.result.hotsearch_weibo", msg.Subject)

	var got model.ExecutionResult
	require.NoError(t, json.Unmarshal(msg.Data, &got))
	assert.Equal(t, result.ID, got.ID)
	assert.Equal(t, result.TaskName, got.TaskName)
	assert.Equal(t, model.OutcomeNoData, got.Outcome)
	assert.True(t, result.AttemptedAt.Equal(got.AttemptedAt))

	// Test case 2: a republished ID is deduplicated
	require.NoError(t, publisher.Publish(context.Background(), result))
	info, err := js.StreamInfo(ResultStreamName)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)
}

func TestResultPublisher_UpdatesExistingStream(t *testing.T) {
	_, _, js := testutil.StartJetStream(t)

	_, err := js.AddStream(&nats.StreamConfig{
		Name:     ResultStreamName,
		Subjects: []string{"pushbot.result.>"},
		MaxAge:   time.Hour,
	})
	require.NoError(t, err)

	_, err = NewResultPublisher(js, "pushbot", zaptest.NewLogger(t))
	require.NoError(t, err)

	info, err := js.StreamInfo(ResultStreamName)
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, info.Config.MaxAge)
}

func TestResultPublisher_Subscribe(t *testing.T) {
	_, _, js := testutil.StartJetStream(t)
	publisher, err := NewResultPublisher(js, "pushbot", zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan model.ExecutionResult, 1)
	require.NoError(t, publisher.Subscribe(ctx, func(result model.ExecutionResult) {
		received <- result
	}))

	require.NoError(t, publisher.Publish(context.Background(), model.ExecutionResult{
		ID:       "id-1",
		TaskName: "weather",
		Outcome:  model.OutcomeSuccess,
	}))

	select {
	case result := <-received:
		assert.Equal(t, "weather", result.TaskName)
		assert.True(t, result.Succeeded())
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result")
	}
}
