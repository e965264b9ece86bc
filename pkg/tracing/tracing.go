package tracing

import (
	"context"
	"fmt"
	"io"

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	jCfg "github.com/uber/jaeger-client-go/config"
	"github.com/uber/jaeger-lib/metrics"
)

type Config struct {
	Enabled bool
	Service string
	Host    string
	Port    int
}

// InitTracer поднимает jaeger и ставит его глобальным трейсером.
// При Enabled=false остаётся NoopTracer.
func InitTracer(conf Config) (opentracing.Tracer, io.Closer, error) {
	if !conf.Enabled {
		return opentracing.NoopTracer{}, nopCloser{}, nil
	}

	service := conf.Service
	if service == "" {
		service = "default"
	}

	cfg := &jCfg.Configuration{
		ServiceName: service,
		Sampler: &jCfg.SamplerConfig{
			Type:  "const",
			Param: 1,
		},
		Reporter: &jCfg.ReporterConfig{
			LogSpans:           false,
			LocalAgentHostPort: fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		},
	}

	tracer, closer, err := cfg.NewTracer(jCfg.Metrics(metrics.NullFactory))
	if err != nil {
		return nil, nil, fmt.Errorf("tracing.InitTracer: %w", err)
	}

	opentracing.SetGlobalTracer(tracer)
	return tracer, closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// StartSpan — span от глобального трейсера с тегами.
func StartSpan(ctx context.Context, name string, tags map[string]any) (opentracing.Span, context.Context) {
	span, ctx := opentracing.StartSpanFromContext(ctx, name)
	for k, v := range tags {
		span.SetTag(k, v)
	}
	return span, ctx
}

// Finish закрывает span, помечая ошибку.
func Finish(span opentracing.Span, err error) {
	if err != nil {
		ext.Error.Set(span, true)
		span.LogKV("error", err.Error())
	}
	span.Finish()
}
