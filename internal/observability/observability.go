// Package observability configures the process-wide slog logger, either as a
// plain stderr handler or bridged into an OpenTelemetry log pipeline.
package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/contrib/processors/minsev"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// InstrumentationName identifies log records emitted through the OpenTelemetry bridge.
const InstrumentationName = "github.com/florianilch/sessionkeeper"

// Exporter selects where log records go.
type Exporter string

const (
	ExporterNone     Exporter = "none"
	ExporterStdout   Exporter = "stdout"
	ExporterOTLPGRPC Exporter = "otlp-grpc"
	ExporterOTLPHTTP Exporter = "otlp-http"
)

// Settings configures Instrument.
type Settings struct {
	Level  slog.Level
	Format string // text or json, used when Exporter is none

	Exporter Exporter
	// Endpoint overrides the OTLP collector address (host:port). Empty means
	// the exporter's environment-driven default.
	Endpoint string
	Insecure bool

	// Writer receives plain or stdout-exported logs. Defaults to os.Stderr.
	Writer io.Writer
}

// ShutdownFunc flushes and stops the log pipeline.
type ShutdownFunc func(context.Context) error

func noopShutdown(context.Context) error { return nil }

// Instrument installs the default slog logger described by s.
func Instrument(ctx context.Context, s Settings) (ShutdownFunc, error) {
	w := s.Writer
	if w == nil {
		w = os.Stderr
	}

	if s.Exporter == "" || s.Exporter == ExporterNone {
		handler, err := newHandler(w, s.Level, s.Format)
		if err != nil {
			return nil, err
		}
		slog.SetDefault(slog.New(handler))
		return noopShutdown, nil
	}

	exporter, err := newExporter(ctx, w, s)
	if err != nil {
		return nil, fmt.Errorf("creating %s log exporter: %w", s.Exporter, err)
	}

	var processor sdklog.Processor
	if s.Exporter == ExporterStdout {
		processor = sdklog.NewSimpleProcessor(exporter)
	} else {
		processor = sdklog.NewBatchProcessor(exporter)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(minsev.NewLogProcessor(processor, severity(s.Level))),
	)

	slog.SetDefault(otelslog.NewLogger(InstrumentationName, otelslog.WithLoggerProvider(provider)))

	return provider.Shutdown, nil
}

// newHandler creates a plain slog handler.
func newHandler(w io.Writer, level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}
	switch format {
	case "", "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", format)
	}
}

func newExporter(ctx context.Context, w io.Writer, s Settings) (sdklog.Exporter, error) {
	switch s.Exporter {
	case ExporterStdout:
		return stdoutlog.New(stdoutlog.WithWriter(w))
	case ExporterOTLPGRPC:
		var opts []otlploggrpc.Option
		if s.Endpoint != "" {
			opts = append(opts, otlploggrpc.WithEndpoint(s.Endpoint))
		}
		if s.Insecure {
			opts = append(opts, otlploggrpc.WithInsecure())
		}
		return otlploggrpc.New(ctx, opts...)
	case ExporterOTLPHTTP:
		var opts []otlploghttp.Option
		if s.Endpoint != "" {
			opts = append(opts, otlploghttp.WithEndpoint(s.Endpoint))
		}
		if s.Insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		return otlploghttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unsupported exporter: %s", s.Exporter)
	}
}

// severity maps a slog level onto the closest OpenTelemetry minimum severity.
func severity(level slog.Level) minsev.Severity {
	switch {
	case level <= slog.LevelDebug:
		return minsev.SeverityDebug
	case level <= slog.LevelInfo:
		return minsev.SeverityInfo
	case level <= slog.LevelWarn:
		return minsev.SeverityWarn
	default:
		return minsev.SeverityError
	}
}
