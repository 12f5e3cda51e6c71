package monitoring

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coremon "github.com/kilianp07/emsdispatch/core/monitoring"
)

func TestNewSentryMonitorDisabled(t *testing.T) {
	m, err := NewSentryMonitor(coremon.Config{})
	require.NoError(t, err)
	assert.IsType(t, coremon.NopMonitor{}, m)
}

func TestNewSentryMonitorInvalidDSN(t *testing.T) {
	_, err := NewSentryMonitor(coremon.Config{DSN: "not a dsn"})
	assert.Error(t, err)
}

func TestSentryMonitorSendsEvents(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/1/") {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dsn := fmt.Sprintf("http://public@%s/1", strings.TrimPrefix(srv.URL, "http://"))
	m, err := NewSentryMonitor(coremon.Config{DSN: dsn, Environment: "test"})
	require.NoError(t, err)

	m.CaptureException(errors.New("upstream gone"), map[string]string{"component": "upstream"})
	m.Flush(2 * time.Second)
	assert.Eventually(t, func() bool { return hits.Load() >= 1 }, 2*time.Second, 20*time.Millisecond)
}
