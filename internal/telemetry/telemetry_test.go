package telemetry

import (
	"fmt"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/errors"
)

const testDSN = "https://public@example.com/1"

func initWithMock(t *testing.T) *MockTransport {
	t.Helper()
	transport := NewMockTransport()
	settings := &conf.SentrySettings{
		Enabled:     true,
		DSN:         testDSN,
		Environment: "test",
		SampleRate:  1.0,
	}
	require.NoError(t, InitSentry(settings, "test", WithTransport(transport)))
	t.Cleanup(func() { Close(time.Second) })
	return transport
}

func TestInitSentryDisabled(t *testing.T) {
	require.NoError(t, InitSentry(&conf.SentrySettings{}, "test"))
	assert.False(t, Enabled())
	assert.Nil(t, errors.GetTelemetryReporter())
	assert.True(t, Close(0))
}

func TestReportedErrorReachesTransport(t *testing.T) {
	transport := initWithMock(t)
	require.True(t, Enabled())

	_ = errors.New(fmt.Errorf("device vanished")).
		Component("capture").
		Category(errors.CategoryAudioSource).
		Context("operation", "start_device").
		Build()

	require.True(t, transport.WaitForEventCount(1, 2*time.Second))
	event := transport.Events()[0]
	assert.Equal(t, "capture", event.Tags["component"])
	assert.Equal(t, string(errors.CategoryAudioSource), event.Tags["category"])
	assert.Contains(t, event.Message, "device vanished")
	assert.Empty(t, event.ServerName)
	assert.Equal(t, "vurecorder@test", event.Release)
}

func TestLowPriorityErrorsStayLocal(t *testing.T) {
	transport := initWithMock(t)

	_ = errors.Newf("queue full").
		Component("slowtask").
		Category(errors.CategoryLimit).
		Priority(errors.PriorityLow).
		Build()

	assert.False(t, transport.WaitForEventCount(1, 200*time.Millisecond))
}

func TestCloseRemovesReporter(t *testing.T) {
	initWithMock(t)
	require.NotNil(t, errors.GetTelemetryReporter())

	assert.True(t, Close(time.Second))
	assert.False(t, Enabled())
	assert.Nil(t, errors.GetTelemetryReporter())
}

func TestApplyPrivacyFilters(t *testing.T) {
	event := sentry.NewEvent()
	event.ServerName = "my-laptop"
	event.User = sentry.User{ID: "42", IPAddress: "10.0.0.1"}
	event.Contexts["os"] = sentry.Context{"name": "linux"}
	event.Contexts["platform"] = sentry.Context{"num_cpu": 4}
	event.Extra["component"] = "capture"
	event.Extra["path"] = "/home/someone"
	event.Tags["hostname"] = "my-laptop"
	event.Tags["component"] = "capture"

	out := applyPrivacyFilters(event)
	assert.Empty(t, out.ServerName)
	assert.Equal(t, sentry.User{}, out.User)
	assert.NotContains(t, out.Contexts, "os")
	assert.Contains(t, out.Contexts, "platform")
	assert.Equal(t, map[string]any{"component": "capture"}, out.Extra)
	assert.Equal(t, map[string]string{"component": "capture"}, out.Tags)
}
