package monitoring

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMonitor struct {
	mu      sync.Mutex
	errs    []error
	tags    []map[string]string
	panics  []any
	flushed int
}

func (m *recordingMonitor) CaptureException(err error, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = append(m.errs, err)
	m.tags = append(m.tags, tags)
}

func (m *recordingMonitor) CapturePanic(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.panics = append(m.panics, v)
}

func (m *recordingMonitor) Flush(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushed++
}

func install(t *testing.T) *recordingMonitor {
	t.Helper()
	m := &recordingMonitor{}
	Init(m)
	t.Cleanup(func() { Init(nil) })
	return m
}

func TestGuardReportsErrors(t *testing.T) {
	m := install(t)
	boom := errors.New("boom")

	require.NoError(t, Guard("http", func() error { return nil })())
	assert.ErrorIs(t, Guard("http", func() error { return boom })(), boom)

	require.Len(t, m.errs, 1)
	assert.Equal(t, boom, m.errs[0])
	assert.Equal(t, "http", m.tags[0]["component"])
}

func TestGuardRepanics(t *testing.T) {
	m := install(t)
	assert.PanicsWithValue(t, "kaboom", func() {
		_ = Guard("worker", func() error { panic("kaboom") })()
	})
	assert.Equal(t, []any{"kaboom"}, m.panics)
	assert.Equal(t, 1, m.flushed)
}

func TestCaptureIgnoresNil(t *testing.T) {
	m := install(t)
	CaptureException(nil, nil)
	assert.Empty(t, m.errs)
}

func TestConfig(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, "production", c.Environment)
	assert.False(t, c.Enabled())
	require.NoError(t, c.Validate())

	c.TracesSampleRate = 1.5
	assert.Error(t, c.Validate())
}
