package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ExposesCollectors(t *testing.T) {
	Validations.WithLabelValues("granted").Inc()
	MaintenanceRows.WithLabelValues("expire_licenses").Add(2)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `eavault_license_validations_total{outcome="granted"}`)
	assert.Contains(t, string(body), `eavault_maintenance_rows_total{job="expire_licenses"}`)
}
