package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mlass/internal/domain/models"
	obsmw "mlass/internal/middleware"
	"mlass/internal/repository"
	"mlass/internal/service/ratelimit"
	"mlass/internal/services/forecast"
	"mlass/internal/services/identity"
	"mlass/internal/usecase"
	xhttp "mlass/pkg/http"
	xlogger "mlass/pkg/logger"
	"mlass/pkg/nn"
	"mlass/pkg/telemetry"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func newTestServer(t *testing.T, dataRef string, opts ...usecase.ForecastOption) *echo.Echo {
	t.Helper()
	l := xlogger.NewWithWriter(&xlogger.Config{Level: "info"}, io.Discard)

	topo := nn.Topology{Lookback: 60, Units: []int{4, 4}, DropoutRate: 0.2, Epochs: 1, BatchSize: 8, LearningRate: 0.01, Seed: 1, Workers: 2}
	p, err := forecast.NewPipeline(repository.NewCSVPriceSource(), topo)
	require.NoError(t, err)
	uc := usecase.NewForecastUseCase(p, repository.NewMemoryModelRegistry(), dataRef, l, opts...)

	rt, err := telemetry.NewRuntime(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider(), nil)
	require.NoError(t, err)
	obs := obsmw.NewObservability(rt, identity.NewStaticVerifier("service-123", "app-456", nil), l)

	h := NewForecastEchoHandler(l, uc, obs.Middleware())
	srv := xhttp.NewServer(h, l, xhttp.WithRegistry(prometheus.NewRegistry()))
	return srv.Echo()
}

func call(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(obsmw.HeaderInstanceID, "instance-1")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func pricesBody(n int) string {
	prices := make([]string, n)
	for i := range prices {
		prices[i] = fmt.Sprintf("%.2f", 100+float64(i%9))
	}
	return `{"prices":[` + strings.Join(prices, ",") + `]}`
}

func TestPredictBeforeTrain(t *testing.T) {
	e := newTestServer(t, "../../services/forecast/testdata/prices_80.csv")

	rec := call(e, http.MethodPost, "/predict", pricesBody(70))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"Model not trained"}`, rec.Body.String())
}

func TestTrainThenPredict(t *testing.T) {
	e := newTestServer(t, "../../services/forecast/testdata/prices_80.csv")

	rec := call(e, http.MethodPost, "/train", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"message":"Model trained successfully"}`, rec.Body.String())

	rec = call(e, http.MethodPost, "/predict", pricesBody(70))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp models.PredictResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Predictions, 10)

	rec = call(e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","models":1}`, rec.Body.String())
}

func TestTrainWithShortSeriesFails(t *testing.T) {
	e := newTestServer(t, "../../services/forecast/testdata/prices_59.csv")

	rec := call(e, http.MethodPost, "/train", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp xhttp.DetailResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Detail, models.ErrInsufficientData.Error())
}

func TestPredictRejectsInvalidBody(t *testing.T) {
	e := newTestServer(t, "../../services/forecast/testdata/prices_80.csv")

	for _, body := range []string{`{"prices":[]}`, `{"prices":[1,-2]}`, `{"prices":"x"}`} {
		rec := call(e, http.MethodPost, "/predict", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.Contains(t, rec.Body.String(), `"detail"`)
	}
}

func TestOversizedBodyIsRejected(t *testing.T) {
	e := newTestServer(t, "../../services/forecast/testdata/prices_80.csv")

	body := `{"prices":[1],"pad":"` + strings.Repeat("x", 2<<20) + `"}`
	rec := call(e, http.MethodPost, "/predict", body)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), `"detail"`)
}

func TestTrainRateLimited(t *testing.T) {
	e := newTestServer(t, "../../services/forecast/testdata/prices_80.csv",
		usecase.WithTrainLimiter(ratelimit.New(1, 0)))

	require.Equal(t, http.StatusOK, call(e, http.MethodPost, "/train", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, call(e, http.MethodPost, "/train", "").Code)
}

func TestToAppError(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{models.ErrNotTrained, http.StatusBadRequest},
		{fmt.Errorf("%w: x", models.ErrRateLimited), http.StatusTooManyRequests},
		{fmt.Errorf("%w: x", models.ErrIdentityRejected), http.StatusUnauthorized},
		{fmt.Errorf("%w: nan", models.ErrTrainingFailure), http.StatusInternalServerError},
		{fmt.Errorf("%w: short", models.ErrInsufficientData), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.status, toAppError(tc.err).Status, tc.err.Error())
	}
}
