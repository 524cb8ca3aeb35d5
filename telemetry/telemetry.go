package telemetry

import (
	"context"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pointshop/shopauth/flow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the telemetry configuration.
type Config struct {
	// ServiceName is the name of the service (e.g., "shopauth").
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// Environment is the deployment environment (e.g., "production").
	Environment string

	// OTLPEndpoint is the OTLP exporter endpoint for traces.
	// Leave empty to disable trace export.
	OTLPEndpoint string

	// SamplingRate is the trace sampling rate (0.0-1.0).
	SamplingRate float64

	// Enabled determines if telemetry is active.
	Enabled bool
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "shopauth",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		SamplingRate:   1.0,
		Enabled:        true,
	}
}

// Provider manages OpenTelemetry tracer and meter providers.
type Provider struct {
	config         Config
	registry       *promclient.Registry
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	loginCounter        metric.Int64Counter
	registrationCounter metric.Int64Counter
	lockoutCounter      metric.Int64Counter
	logoutCounter       metric.Int64Counter
	profileCounter      metric.Int64Counter
	authDuration        metric.Float64Histogram
}

// NewProvider creates a new telemetry provider. A disabled provider accepts
// every call and records nothing.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg}, nil
	}

	p := &Provider{config: cfg, registry: promclient.NewRegistry()}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	if err := p.setupTracing(res); err != nil {
		return nil, err
	}
	if err := p.setupMetrics(res); err != nil {
		return nil, err
	}
	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(res *resource.Resource) error {
	var sampler sdktrace.Sampler
	if p.config.SamplingRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if p.config.SamplingRate <= 0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(p.config.SamplingRate)
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	}

	if p.config.OTLPEndpoint != "" {
		exporter, err := otlptracegrpc.New(
			context.Background(),
			otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)

	p.tracer = p.tracerProvider.Tracer(p.config.ServiceName)

	return nil
}

func (p *Provider) setupMetrics(res *resource.Resource) error {
	exporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return err
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(p.meterProvider)

	p.meter = p.meterProvider.Meter(p.config.ServiceName)

	return nil
}

func (p *Provider) initMetrics() error {
	var err error

	p.loginCounter, err = p.meter.Int64Counter(
		"shopauth.login.total",
		metric.WithDescription("Total number of login attempts by outcome"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.registrationCounter, err = p.meter.Int64Counter(
		"shopauth.registration.total",
		metric.WithDescription("Total number of created accounts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.lockoutCounter, err = p.meter.Int64Counter(
		"shopauth.lockout.total",
		metric.WithDescription("Total number of lockout events"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.logoutCounter, err = p.meter.Int64Counter(
		"shopauth.logout.total",
		metric.WithDescription("Total number of logouts"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.profileCounter, err = p.meter.Int64Counter(
		"shopauth.profile_completion.total",
		metric.WithDescription("Total number of completed profiles"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return err
	}

	p.authDuration, err = p.meter.Float64Histogram(
		"shopauth.auth.duration",
		metric.WithDescription("Credential verification duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Shutdown gracefully shuts down the telemetry providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Tracer returns the tracer instance.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(p.config.ServiceName)
	}
	return p.tracer
}

// Handler serves the Prometheus exposition of the provider's metrics.
func (p *Provider) Handler() http.Handler {
	if p.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Observe implements flow.Observer.
func (p *Provider) Observe(ctx context.Context, e flow.Event) {
	switch e.Type {
	case flow.EventLogin:
		p.RecordLogin(ctx, e.Outcome)
		p.RecordAuthDuration(ctx, e.Outcome, e.Duration.Seconds())
	case flow.EventRegistration:
		p.RecordRegistration(ctx)
	case flow.EventLockout:
		p.RecordLockout(ctx)
	case flow.EventLogout:
		p.add(ctx, p.logoutCounter)
	case flow.EventProfileCompleted:
		p.add(ctx, p.profileCounter)
	}
}

func (p *Provider) add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// ---- Metric Recording Methods ----

// RecordLogin records a login attempt.
func (p *Provider) RecordLogin(ctx context.Context, outcome flow.Outcome) {
	p.add(ctx, p.loginCounter, attribute.String("outcome", string(outcome)))
}

// RecordRegistration records a created account.
func (p *Provider) RecordRegistration(ctx context.Context) {
	p.add(ctx, p.registrationCounter)
}

// RecordLockout records a lockout event.
func (p *Provider) RecordLockout(ctx context.Context) {
	p.add(ctx, p.lockoutCounter)
}

// RecordAuthDuration records credential verification duration.
func (p *Provider) RecordAuthDuration(ctx context.Context, outcome flow.Outcome, seconds float64) {
	if p.authDuration == nil {
		return
	}
	p.authDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("outcome", string(outcome)),
		),
	)
}
