package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerExposesCollectors(t *testing.T) {
	CommandsTotal.WithLabelValues("NOOP").Inc()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `smtp_intake_commands_total{verb="NOOP"}`)
}

func TestCounterVecLabels(t *testing.T) {
	before := testutil.ToFloat64(DeliveriesTotal.WithLabelValues("test", ResultSuccess))
	DeliveriesTotal.WithLabelValues("test", ResultSuccess).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(DeliveriesTotal.WithLabelValues("test", ResultSuccess)))
}
