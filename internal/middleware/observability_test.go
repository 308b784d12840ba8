package middleware

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mlass/internal/domain/models"
	pkghttp "mlass/pkg/http"
	httpmw "mlass/pkg/http/middleware"
	applogger "mlass/pkg/logger"
	"mlass/pkg/telemetry"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type stubVerifier struct {
	seen []models.Credentials
	err  error
}

func (v *stubVerifier) Verify(_ context.Context, creds models.Credentials) (models.Identity, error) {
	v.seen = append(v.seen, creds)
	if v.err != nil {
		return models.Identity{}, v.err
	}
	return models.Identity{InstanceID: creds.InstanceID, ServiceID: "service-123", AppID: "app-456"}, nil
}

type harness struct {
	e        *echo.Echo
	spans    *tracetest.SpanRecorder
	reader   *sdkmetric.ManualReader
	verifier *stubVerifier
	seen     *models.Identity
	body     *string
}

func newHarness(t *testing.T, verifier *stubVerifier, opts ...ObservabilityOption) *harness {
	t.Helper()
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rt, err := telemetry.NewRuntime(tp, mp, nil)
	require.NoError(t, err)

	l := applogger.NewWithWriter(&applogger.Config{Level: "debug"}, io.Discard)
	obs := NewObservability(rt, verifier, l, opts...)

	h := &harness{spans: spans, reader: reader, verifier: verifier, seen: &models.Identity{}, body: new(string)}
	e := echo.New()
	e.HTTPErrorHandler = pkghttp.ErrorHandler
	e.Use(httpmw.Recover(l))
	mw := obs.Middleware()
	e.POST("/train", func(c echo.Context) error {
		*h.seen, _ = models.IdentityFromContext(c.Request().Context())
		raw, _ := io.ReadAll(c.Request().Body)
		*h.body = string(raw)
		return c.JSON(http.StatusOK, models.MessageResponse{Message: "ok"})
	}, mw)
	e.POST("/fail", func(c echo.Context) error {
		return errors.New("pipeline exploded")
	}, mw)
	e.POST("/notrained", func(c echo.Context) error {
		return pkghttp.BadRequestError(models.ErrNotTrained.Error())
	}, mw)
	e.POST("/panic", func(c echo.Context) error {
		panic("kaboom")
	}, mw)
	h.e = e
	return h
}

func (h *harness) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

type requestMetrics struct {
	calls, errors int64
	latencyCount  uint64
}

func (h *harness) metrics(t *testing.T) requestMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, h.reader.Collect(context.Background(), &rm))
	var out requestMetrics
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					if m.Name == "api_calls" {
						out.calls += dp.Value
					}
					if m.Name == "api_errors" {
						out.errors += dp.Value
					}
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					out.latencyCount += dp.Count
				}
			}
		}
	}
	return out
}

func attr(attrs []attribute.KeyValue, key string) string {
	for _, kv := range attrs {
		if string(kv.Key) == key {
			return kv.Value.Emit()
		}
	}
	return ""
}

func TestObservabilitySuccess(t *testing.T) {
	h := newHarness(t, &stubVerifier{})

	rec := h.do(http.MethodPost, "/train", "", map[string]string{
		HeaderInstanceID: "instance-9",
		HeaderAPIKey:     "key-9",
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, h.verifier.seen, 1)
	assert.Equal(t, models.Credentials{InstanceID: "instance-9", APIKey: "key-9"}, h.verifier.seen[0])
	assert.Equal(t, models.Identity{InstanceID: "instance-9", ServiceID: "service-123", AppID: "app-456"}, *h.seen)

	spans := h.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "/train", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, "200", attr(spans[0].Attributes(), "http.status_code"))
	assert.Equal(t, "instance-9", attr(spans[0].Attributes(), "instanceId"))
	assert.Equal(t, "service-123", attr(spans[0].Attributes(), "service.id"))
	assert.Equal(t, "app-456", attr(spans[0].Attributes(), "app.id"))

	assert.Equal(t, requestMetrics{calls: 1, errors: 0, latencyCount: 1}, h.metrics(t))
}

func TestObservabilityDefaultsIdentity(t *testing.T) {
	h := newHarness(t, &stubVerifier{})

	h.do(http.MethodPost, "/train", "", nil)
	require.Len(t, h.verifier.seen, 1)
	assert.Equal(t, models.Credentials{InstanceID: "instance-1", APIKey: "default-api-key"}, h.verifier.seen[0])
}

func TestObservabilityReadsBodyAndRestoresIt(t *testing.T) {
	h := newHarness(t, &stubVerifier{})
	body := `{"instance_id":"from-body","service_api_key":"body-key","prices":[1,2,3]}`

	rec := h.do(http.MethodPost, "/train", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from-body", h.verifier.seen[0].InstanceID)
	assert.Equal(t, "body-key", h.verifier.seen[0].APIKey)
	assert.Equal(t, body, *h.body)
}

func TestObservabilityPassesOversizedBodyThrough(t *testing.T) {
	h := newHarness(t, &stubVerifier{})
	body := `{"instance_id":"from-body","pad":"` + strings.Repeat("x", maxCredentialBody) + `"}`

	rec := h.do(http.MethodPost, "/train", body, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.verifier.seen, 1)
	assert.Equal(t, models.DefaultInstanceID, h.verifier.seen[0].InstanceID)
	assert.Equal(t, body, *h.body)
}

func TestObservabilityCredentialPrecedence(t *testing.T) {
	h := newHarness(t, &stubVerifier{})
	body := `{"instance_id":"from-body","service_api_key":"body-key"}`

	h.do(http.MethodPost, "/train?instance_id=from-query", body, map[string]string{HeaderAPIKey: "header-key"})
	require.Len(t, h.verifier.seen, 1)
	assert.Equal(t, "from-query", h.verifier.seen[0].InstanceID)
	assert.Equal(t, "header-key", h.verifier.seen[0].APIKey)

	h.do(http.MethodPost, "/train?instance_id=from-query", "", map[string]string{HeaderInstanceID: "from-header"})
	assert.Equal(t, "from-header", h.verifier.seen[1].InstanceID)
}

func TestObservabilityHandlerError(t *testing.T) {
	h := newHarness(t, &stubVerifier{})

	rec := h.do(http.MethodPost, "/fail", "", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"pipeline exploded"}`, rec.Body.String())

	spans := h.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, requestMetrics{calls: 1, errors: 1, latencyCount: 1}, h.metrics(t))
}

func TestObservabilityReturnedClientError(t *testing.T) {
	h := newHarness(t, &stubVerifier{})

	rec := h.do(http.MethodPost, "/notrained", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"detail":"model not trained"}`, rec.Body.String())
	assert.Equal(t, requestMetrics{calls: 1, errors: 1, latencyCount: 1}, h.metrics(t))
}

func TestObservabilityPanicIsRecordedAndReraised(t *testing.T) {
	h := newHarness(t, &stubVerifier{})

	rec := h.do(http.MethodPost, "/panic", "", nil)
	// the outer Recover middleware saw the re-raised panic
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"detail":"kaboom"}`, rec.Body.String())

	spans := h.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "500", attr(spans[0].Attributes(), "http.status_code"))
	assert.Equal(t, requestMetrics{calls: 1, errors: 1, latencyCount: 1}, h.metrics(t))
}

func TestObservabilityRejectPolicy(t *testing.T) {
	h := newHarness(t, &stubVerifier{err: models.ErrIdentityRejected})

	rec := h.do(http.MethodPost, "/train", "", map[string]string{HeaderInstanceID: "intruder"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "identity verification failed")
	assert.Equal(t, models.Identity{}, *h.seen, "handler must not run")

	spans := h.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, "intruder", attr(spans[0].Attributes(), "instanceId"))
	assert.Equal(t, requestMetrics{calls: 1, errors: 1, latencyCount: 1}, h.metrics(t))
}

func TestObservabilityFallbackPolicy(t *testing.T) {
	h := newHarness(t, &stubVerifier{err: models.ErrIdentityRejected},
		WithPolicy(PolicyFallback),
		WithFallbackIdentity("service-123", "app-456"),
		WithLogLevel("info"),
	)

	rec := h.do(http.MethodPost, "/train", "", map[string]string{HeaderInstanceID: "instance-3"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.Identity{InstanceID: "instance-3", ServiceID: "service-123", AppID: "app-456"}, *h.seen)

	spans := h.spans.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "info", attr(spans[0].Attributes(), "logLevel"))
	assert.Equal(t, requestMetrics{calls: 1, errors: 0, latencyCount: 1}, h.metrics(t))
}
