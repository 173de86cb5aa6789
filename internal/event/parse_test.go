package event

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTraceStarted(t *testing.T) {
	data := []byte(`{"type":"trace_started","traceId":"t1","sessionId":"s1","payload":{"query":"top customers by revenue","model":"gpt-4"}}`)

	ev, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, TypeTraceStarted, ev.Type)
	assert.Equal(t, "t1", ev.TraceID)
	assert.Equal(t, "s1", ev.SessionID)
	require.NotNil(t, ev.TraceStarted)
	assert.Equal(t, "gpt-4", ev.TraceStarted.Model)
	assert.False(t, ev.ReceivedAt.IsZero())
}

func TestParseConfidenceUpdated(t *testing.T) {
	data := []byte(`{"type":"confidence_updated","traceId":"t1","payload":{"confidence":0.42,"factors":[{"name":"schema_match","weight":0.7}]}}`)

	ev, err := Parse(data)
	require.NoError(t, err)

	require.NotNil(t, ev.ConfidenceUpdated)
	assert.InDelta(t, 0.42, ev.ConfidenceUpdated.Confidence, 1e-9)
	require.Len(t, ev.ConfidenceUpdated.Factors, 1)
	assert.Equal(t, "schema_match", ev.ConfidenceUpdated.Factors[0].Name)
}

func TestParseStepCompletedCarriesFullStepList(t *testing.T) {
	data := []byte(`{"type":"step_completed","traceId":"t1","payload":{"step":{"name":"sql_generation","confidence":0.8,"success":true},"allSteps":[{"name":"intent","confidence":0.9,"success":true},{"name":"sql_generation","confidence":0.8,"success":true}]}}`)

	ev, err := Parse(data)
	require.NoError(t, err)

	require.NotNil(t, ev.StepCompleted)
	assert.Equal(t, "sql_generation", ev.StepCompleted.Step.Name)
	assert.Len(t, ev.StepCompleted.AllSteps, 2)
}

func TestParseUnknownTypeIsNotAnError(t *testing.T) {
	data := []byte(`{"type":"frobnicate","traceId":"t1","payload":{}}`)

	ev, err := Parse(data)
	require.NoError(t, err)

	assert.Equal(t, TypeUnknown, ev.Type)
	assert.Equal(t, data, ev.Raw)
}

func TestParseMissingTraceID(t *testing.T) {
	_, err := Parse([]byte(`{"type":"trace_completed","payload":{"finalConfidence":0.9}}`))
	assert.Error(t, err)
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := Parse([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestParseEmptyPayload(t *testing.T) {
	ev, err := Parse([]byte(`{"type":"trace_started","traceId":"t1"}`))
	require.NoError(t, err)
	require.NotNil(t, ev.TraceStarted)
}
