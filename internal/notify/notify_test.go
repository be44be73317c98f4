package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"modelmon/internal/model"
)

type capturingPusher struct {
	messages   []string
	severities []Severity
}

func (p *capturingPusher) Push(message string, severity Severity) error {
	p.messages = append(p.messages, message)
	p.severities = append(p.severities, severity)
	return nil
}

func detectedEvent() *model.ResultEvent {
	return &model.ResultEvent{
		Kind:            model.KindResult,
		EndpointID:      "ep-1",
		ApplicationName: "dummy-app",
		Name:            "drift",
		Value:           0.91,
		Status:          model.StatusDetected,
		ResultKind:      "data_drift",
		ExtraData:       "feature f1 drifted",
		StartInferTime:  time.Date(2024, 5, 1, 11, 0, 0, 0, time.UTC),
		EndInferTime:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotifyBelowThresholdIsSilent(t *testing.T) {
	pusher := &capturingPusher{}
	n := New(pusher)

	for _, status := range []model.ResultStatus{model.StatusNoDetection, model.StatusPotentialDetection} {
		ev := detectedEvent()
		ev.Status = status
		require.NoError(t, n.Notify(ev))
	}
	assert.Empty(t, pusher.messages)
}

func TestNotifyDetectedPushesOnce(t *testing.T) {
	pusher := &capturingPusher{}
	n := New(pusher)

	require.NoError(t, n.Notify(detectedEvent()))
	require.Len(t, pusher.messages, 1)
	assert.Equal(t, SeverityWarning, pusher.severities[0])
	assert.Contains(t, pusher.messages[0], "dummy-app")
	assert.Contains(t, pusher.messages[0], "ep-1")
	assert.Contains(t, pusher.messages[0], "data_drift")
	assert.Contains(t, pusher.messages[0], "2024-05-01T11:00:00Z")
	assert.Contains(t, pusher.messages[0], "feature f1 drifted")
}

func TestMetricEventsNeverNotify(t *testing.T) {
	ev := detectedEvent()
	ev.Kind = model.KindMetric
	assert.False(t, ShouldNotify(ev))
}
