package errors

import (
	"fmt"
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) {
	r.reported = append(r.reported, ee)
	ee.MarkReported()
}

func (r *recordingReporter) IsEnabled() bool { return true }

func TestBuildDefaults(t *testing.T) {
	ee := New(fmt.Errorf("boom")).Build()

	assert.Equal(t, "boom", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.Component)
	assert.Equal(t, CategoryGeneric, ee.Category)
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuilderFluent(t *testing.T) {
	sentinel := NewStd("queue file corrupt")
	ee := New(sentinel).
		Component("transfer").
		Category(CategoryQueue).
		Priority(PriorityHigh).
		Context("path", "/tmp/pending.json").
		Build()

	assert.Equal(t, "transfer", ee.Component)
	assert.Equal(t, CategoryQueue, ee.Category)
	assert.Equal(t, PriorityHigh, ee.Priority)
	assert.Equal(t, "/tmp/pending.json", ee.GetContext()["path"])
	require.ErrorIs(t, ee, sentinel)
	assert.True(t, IsCategory(ee, CategoryQueue))
}

func TestInvalidPriorityFallsBack(t *testing.T) {
	ee := New(NewStd("x")).Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.Priority)
}

func TestCategoryInheritedWhenRewrapped(t *testing.T) {
	inner := New(NewStd("not here")).Category(CategoryNotFound).Build()
	outer := New(fmt.Errorf("load record: %w", inner)).Component("api").Build()

	assert.Equal(t, CategoryNotFound, outer.Category)
	assert.True(t, IsNotFound(outer))
}

func TestTelemetryReporterReceivesErrors(t *testing.T) {
	rec := &recordingReporter{}
	SetTelemetryReporter(rec)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	ee := New(NewStd("commit failed")).Category(CategoryDatabase).Build()

	require.Len(t, rec.reported, 1)
	assert.Same(t, ee, rec.reported[0])
	assert.True(t, ee.IsReported())
}

func TestScrubMessage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		in       string
		contains string
		excludes string
	}{
		{"query string", "GET https://phone.local/api?token=abc failed", "?[REDACTED]", "abc"},
		{"credentials", "mqtt password=hunter2 rejected", "password=[REDACTED]", "hunter2"},
		{"userinfo", "dial sftp://bob:pw@host/path", "sftp://[REDACTED]@host", "bob:pw"},
		{"coordinates", "record at 45.123456,-122.654321 invalid", "[COORD]", "45.123456"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			out := scrubMessage(tc.in)
			assert.Contains(t, out, tc.contains)
			assert.NotContains(t, out, tc.excludes)
		})
	}
}

func TestApplyPrivacyFilters(t *testing.T) {
	t.Parallel()

	event := sentry.NewEvent()
	event.ServerName = "orchard-pi"
	event.User = sentry.User{ID: "42"}
	event.Tags["hostname"] = "orchard-pi"
	event.Tags["component"] = "reconcile"
	event.Extra["lat"] = 45.123456
	event.Message = "record at 45.123456,-122.654321"
	event.Exception = []sentry.Exception{{Type: "reconcile validation", Value: "password=hunter2"}}

	out := applyPrivacyFilters(event)
	assert.Empty(t, out.ServerName)
	assert.True(t, out.User.IsEmpty())
	assert.NotContains(t, out.Tags, "hostname")
	assert.Equal(t, "reconcile", out.Tags["component"])
	assert.Empty(t, out.Extra)
	assert.NotContains(t, out.Message, "45.123456")
	assert.NotContains(t, out.Exception[0].Value, "hunter2")
}
