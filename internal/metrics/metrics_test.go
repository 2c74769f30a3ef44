package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimer(t *testing.T) {
	timer := NewTimer()
	time.Sleep(20 * time.Millisecond)

	assert.GreaterOrEqual(t, timer.Duration(), 20*time.Millisecond)

	timer.ObserveDurationVec(CacheWriteDuration, "timer-test")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `modhub_cache_write_duration_seconds_count{module="timer-test"} 1`)
}

func TestHandlerExposesCollectors(t *testing.T) {
	PushdownsTotal.Inc()
	ModulesLoaded.Set(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "modhub_pushdowns_total"))
	assert.True(t, strings.Contains(body, "modhub_modules_loaded 2"))
}
