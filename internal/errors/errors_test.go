package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingReporter struct {
	enabled bool
	seen    []*EnhancedError
}

func (r *countingReporter) ReportError(ee *EnhancedError) {
	r.seen = append(r.seen, ee)
	ee.MarkReported()
}

func (r *countingReporter) IsEnabled() bool { return r.enabled }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.IsReported())
}

func TestBuilderKeepsExplicitFields(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := Newf("request failed after %d attempts", 3).
		Component("classify").
		Category(CategoryNetwork).
		Priority(PriorityHigh).
		Context("attempts", 3).
		Build()

	assert.Equal(t, "classify", ee.GetComponent())
	assert.Equal(t, CategoryNetwork, ee.Category)
	assert.Equal(t, PriorityHigh, ee.GetPriority())
	assert.Equal(t, 3, ee.GetContext()["attempts"])
	assert.True(t, IsCategory(ee, CategoryNetwork))
	assert.False(t, IsNotFound(ee))
}

func TestInvalidPriorityFallsBackToMedium(t *testing.T) {
	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.GetPriority())
}

func TestWrappedSentinelStillMatches(t *testing.T) {
	sentinel := NewStd("pool exhausted")
	ee := New(fmt.Errorf("label walk: %w", sentinel)).
		Category(CategoryLimit).
		Build()

	require.ErrorIs(t, ee, sentinel)

	var target *EnhancedError
	require.ErrorAs(t, fmt.Errorf("outer: %w", ee), &target)
	assert.Equal(t, CategoryLimit, target.Category)
}

func TestReporterReceivesErrorsWhenEnabled(t *testing.T) {
	reporter := &countingReporter{enabled: true}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("failed to load checkpoint")).Build()

	require.Len(t, reporter.seen, 1)
	assert.Same(t, ee, reporter.seen[0])
	assert.Equal(t, CategoryModelLoad, ee.Category)
	assert.True(t, ee.IsReported())
}

func TestDisabledReporterKeepsFastPath(t *testing.T) {
	reporter := &countingReporter{enabled: false}
	SetTelemetryReporter(reporter)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	_ = New(NewStd("boom")).Build()
	assert.Empty(t, reporter.seen)
}

func TestDetectCategory(t *testing.T) {
	tests := []struct {
		msg       string
		component string
		want      ErrorCategory
	}{
		{"failed to load checkpoint", "", CategoryModelLoad},
		{"failed to write model file", "", CategoryModelSave},
		{"open api daily request limit reached", "", CategoryLimit},
		{"connection refused", "", CategoryNetwork},
		{"shape mismatch", "", CategoryValidation},
		{"boom", "datastore", CategoryDatabase},
		{"boom", "trainer", CategoryTraining},
		{"boom", "", CategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.msg+"/"+tt.component, func(t *testing.T) {
			assert.Equal(t, tt.want, detectCategory(NewStd(tt.msg), tt.component))
		})
	}
}

func TestRegexPrecompilation(t *testing.T) {
	scrubbed := basicURLScrub("Error at https://api.example.com?api_key=secret123&token=abc")
	assert.Equal(t, "Error at https://api.example.com?[REDACTED]", scrubbed)

	scrubbed = basicURLScrub("Config error: api_key=secret123 is invalid")
	assert.Contains(t, scrubbed, "[API_KEY_REDACTED]")

	scrubbed = basicURLScrub("Auth failed with token=abc123 and auth=xyz789")
	assert.NotContains(t, scrubbed, "abc123")
	assert.NotContains(t, scrubbed, "xyz789")

	scrubbed = basicURLScrub("token exchange failed client_secret=s3cr3t")
	assert.NotContains(t, scrubbed, "s3cr3t")
}

func TestGenerateErrorTitle(t *testing.T) {
	ee := New(NewStd("x")).
		Component("classify").
		Category(CategoryLimit).
		Context("operation", "rotate_token").
		Build()

	assert.Equal(t, "Classify Quota Error Rotate Token", generateErrorTitle(ee))
}
