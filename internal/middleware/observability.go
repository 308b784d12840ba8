package middleware

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mlass/internal/domain/models"
	"mlass/internal/domain/service"
	pkghttp "mlass/pkg/http"
	applogger "mlass/pkg/logger"
	"mlass/pkg/telemetry"
	"mlass/pkg/util"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	HeaderInstanceID = "X-Instance-Id"
	HeaderAPIKey     = "X-Api-Key"

	PolicyReject   = "reject"
	PolicyFallback = "fallback"
)

// Observability resolves the caller's identity, then wraps the handler in a
// span and records api_calls, api_latency and api_errors. Providers come
// from the telemetry runtime built at startup.
type Observability struct {
	verifier    service.IdentityVerifier
	policy      string
	fallback    models.Identity
	tracer      trace.Tracer
	instruments *telemetry.Instruments
	propagator  propagation.TextMapPropagator
	logLevel    string
	l           *applogger.Logger
	now         func() time.Time
}

type ObservabilityOption func(*Observability)

// WithPolicy selects what happens when verification fails: PolicyReject
// answers 401, PolicyFallback continues with the fallback identity.
func WithPolicy(policy string) ObservabilityOption {
	return func(o *Observability) { o.policy = policy }
}

// WithFallbackIdentity sets the service and app ids used under PolicyFallback.
func WithFallbackIdentity(serviceID, appID string) ObservabilityOption {
	return func(o *Observability) {
		o.fallback.ServiceID = serviceID
		o.fallback.AppID = appID
	}
}

// WithLogLevel adds the configured log level as the logLevel attribute.
func WithLogLevel(level string) ObservabilityOption {
	return func(o *Observability) { o.logLevel = level }
}

func NewObservability(rt *telemetry.Runtime, v service.IdentityVerifier, l *applogger.Logger, opts ...ObservabilityOption) *Observability {
	o := &Observability{
		verifier:    v,
		policy:      PolicyReject,
		tracer:      rt.Tracer(),
		instruments: rt.Instruments(),
		propagator:  otel.GetTextMapPropagator(),
		l:           l,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Middleware returns the echo middleware.
func (o *Observability) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			start := o.now()
			req := c.Request()
			ctx := o.propagator.Extract(req.Context(), propagation.HeaderCarrier(req.Header))

			creds := ResolveCredentials(c)
			id, verr := o.verifier.Verify(ctx, creds)
			if verr != nil && o.policy == PolicyFallback {
				o.l.WithInstance(creds.InstanceID).WithContext(ctx).Warn("identity verification failed, using fallback",
					applogger.Error(verr),
				)
				id = o.fallback
				id.InstanceID = creds.InstanceID
				verr = nil
			}
			if verr != nil {
				id = models.Identity{InstanceID: creds.InstanceID}
			}

			path := req.URL.Path
			attrs := o.attributes(id)
			ctx, span := o.tracer.Start(ctx, path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
				trace.WithAttributes(
					attribute.String("http.method", req.Method),
					attribute.String("http.route", c.Path()),
				),
			)
			ctx = models.WithIdentity(ctx, id)
			c.SetRequest(req.WithContext(ctx))
			set := metric.WithAttributes(attrs...)
			o.instruments.Calls.Add(ctx, 1, set)
			l := o.l.WithInstance(id.InstanceID).WithContext(ctx)

			// finish runs exactly once per request, including on panic.
			finish := func(failure error, status int) {
				elapsed := o.now().Sub(start)
				o.instruments.Latency.Record(ctx, elapsed.Seconds(), set)
				span.SetAttributes(attribute.Int("http.status_code", status))
				if failure != nil {
					o.instruments.Errors.Add(ctx, 1, set)
					span.RecordError(failure)
					span.SetStatus(codes.Error, failure.Error())
					l.Error(fmt.Sprintf("API error for %s: %v", path, failure),
						applogger.Int("status", status),
						applogger.Duration("duration_ms", elapsed),
					)
				} else {
					l.Info(fmt.Sprintf("API latency for %s: %.4f seconds", path, elapsed.Seconds()),
						applogger.Int("status", status),
					)
				}
				span.End()
			}

			defer func() {
				if r := recover(); r != nil {
					perr, ok := r.(error)
					if !ok {
						perr = fmt.Errorf("%v", r)
					}
					// the outer Recover has not written its 500 yet
					status := http.StatusInternalServerError
					if c.Response().Committed {
						status = c.Response().Status
					}
					finish(fmt.Errorf("panic: %w", perr), status)
					panic(r)
				}
			}()

			if verr != nil {
				err = pkghttp.UnauthorizedError(verr.Error())
			} else {
				err = next(c)
			}
			if err != nil {
				c.Error(err)
			}

			failure := err
			if failure == nil && c.Response().Status >= http.StatusInternalServerError {
				failure = errors.New(http.StatusText(c.Response().Status))
			}
			finish(failure, c.Response().Status)
			return nil
		}
	}
}

func (o *Observability) attributes(id models.Identity) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String("instanceId", id.InstanceID),
		attribute.String("service.id", id.ServiceID),
		attribute.String("app.id", id.AppID),
	}
	if o.logLevel != "" {
		attrs = append(attrs, attribute.String("logLevel", o.logLevel))
	}
	return attrs
}

type identityBody struct {
	InstanceID    string `json:"instance_id"`
	ServiceAPIKey string `json:"service_api_key"`
}

// ResolveCredentials reads the instance id and API key from the headers,
// then the query string, then a JSON body, and fills the defaults for what
// is still missing. A consumed body is restored for the handler.
func ResolveCredentials(c echo.Context) models.Credentials {
	req := c.Request()
	creds := models.Credentials{
		InstanceID: util.FirstNonEmpty(req.Header.Get(HeaderInstanceID), c.QueryParam("instance_id")),
		APIKey:     util.FirstNonEmpty(req.Header.Get(HeaderAPIKey), c.QueryParam("service_api_key")),
	}

	if (creds.InstanceID == "" || creds.APIKey == "") && hasJSONBody(req) {
		raw, err := io.ReadAll(io.LimitReader(req.Body, maxCredentialBody+1))
		if len(raw) > maxCredentialBody {
			// not scanned; the handler still gets the whole stream
			req.Body = readCloser{io.MultiReader(bytes.NewReader(raw), req.Body), req.Body}
		} else {
			req.Body.Close()
			req.Body = io.NopCloser(bytes.NewReader(raw))
			var body identityBody
			if err == nil && json.Unmarshal(raw, &body) == nil {
				creds.InstanceID = util.FirstNonEmpty(creds.InstanceID, body.InstanceID)
				creds.APIKey = util.FirstNonEmpty(creds.APIKey, body.ServiceAPIKey)
			}
		}
	}

	creds.InstanceID = util.FirstNonEmpty(creds.InstanceID, models.DefaultInstanceID)
	creds.APIKey = util.FirstNonEmpty(creds.APIKey, models.DefaultAPIKey)
	return creds
}

// maxCredentialBody caps how much of a body is buffered to look for credentials.
const maxCredentialBody = 1 << 20

type readCloser struct {
	io.Reader
	io.Closer
}

func hasJSONBody(req *http.Request) bool {
	if req.Body == nil || req.Body == http.NoBody {
		return false
	}
	ct := req.Header.Get(echo.HeaderContentType)
	return ct == "" || strings.HasPrefix(ct, echo.MIMEApplicationJSON)
}
