package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/passbi/localtransport/internal/models"
	"github.com/passbi/localtransport/internal/session"
	"github.com/passbi/localtransport/internal/transport"
)

var (
	_ session.Observer             = (*Collector)(nil)
	_ transport.FetchObserver      = (*Collector)(nil)
	_ transport.ConnectionObserver = (*Collector)(nil)
)

func TestCollector(t *testing.T) {
	c := NewCollector()

	c.Poll("full")
	c.Poll("minor")
	c.Poll("minor")
	c.Response(models.ChannelMain, models.StatusOK)
	c.Response(models.ChannelMain, "")
	c.Rejected(2)
	c.Displayed(4)
	c.Fetched(models.ChannelWalk, models.StatusOK, 120*time.Millisecond, nil)
	c.Fetched(models.ChannelWalk, "", time.Second, errors.New("timeout"))
	c.NATSSetConnected(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Polls.WithLabelValues("minor")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Responses.WithLabelValues("main", "OK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Responses.WithLabelValues("main", "absent")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.RejectedRoutes))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.DisplayedItems))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Fetches.WithLabelValues("walk", "transport_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.NATSConnected))

	c.NATSSetConnected(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.NATSConnected))
}

func TestHandler(t *testing.T) {
	c := NewCollector()
	c.Poll("full")

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `localtransport_polls_total{kind="full"} 1`))
}
