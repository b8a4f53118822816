package log

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/carecoord/welfare-dispatch/conf"
	"github.com/carecoord/welfare-dispatch/dispatch/constants"
	sloglogrus "github.com/samber/slog-logrus"
	"github.com/sirupsen/logrus"
)

var (
	API     logrus.FieldLogger
	Request logrus.FieldLogger

	Worker logrus.FieldLogger
	Health logrus.FieldLogger
)

func init() {
	SetupLoggers()
}

// SetupLoggers (re)builds the package loggers from the current configuration.
func SetupLoggers() {
	API = Logger(logrus.New(), conf.GetEnv("DISPATCH_ERROR_LOG"), "api")
	Request = Logger(logrus.New(), conf.GetEnv("DISPATCH_REQUEST_LOG"), "api")

	Worker = Logger(logrus.New(), conf.GetEnv("DISPATCH_WORKER_ERROR_LOG"), "worker")
	Health = Logger(logrus.New(), conf.GetEnv("WORKER_HEALTH_LOG"), "worker")
}

// Logger configures logger to emit JSON to outputFile (stderr when unset) and
// stamps every entry with the application and deployment fields.
func Logger(logger *logrus.Logger, outputFile, application string) logrus.FieldLogger {
	configure(logger, outputFile)
	return logger.WithFields(baseFields(application))
}

func defaultFieldLogger(logType string) logrus.FieldLogger {
	logger := logrus.New()
	configure(logger, "")
	fields := baseFields("default")
	fields["log_type"] = logType
	return logger.WithFields(fields)
}

func configure(logger *logrus.Logger, outputFile string) {
	if outputFile != "" {
		// #nosec G302 -- 0640 permissions required for log shipping
		if file, err := os.OpenFile(filepath.Clean(outputFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640); err == nil {
			logger.SetOutput(file)
		} else {
			logger.Infof("Failed to open output file %s. Will use stderr. %s",
				outputFile, err.Error())
		}
	}
	// Disable the HTML escape so we get the raw URLs
	logger.SetFormatter(&logrus.JSONFormatter{
		DisableHTMLEscape: true,
		TimestampFormat:   time.RFC3339Nano,
	})
	logger.SetReportCaller(true)
}

func baseFields(application string) logrus.Fields {
	return logrus.Fields{
		"application": application,
		"environment": conf.GetEnv("DEPLOYMENT_TARGET"),
		"source_app":  "welfare-dispatch",
		"version":     constants.Version,
	}
}

// NewSlogLogger bridges logrus to slog for libraries (River) that require a *slog.Logger.
func NewSlogLogger(application string) *slog.Logger {
	logger := logrus.New()
	configure(logger, conf.GetEnv("DISPATCH_WORKER_ERROR_LOG"))
	return slogLoggerFromHandler(sloglogrus.Option{Logger: logger}.NewLogrusHandler(), application)
}

func slogLoggerFromHandler(handler slog.Handler, application string) *slog.Logger {
	return slog.New(handler).With(
		"application", application,
		"environment", conf.GetEnv("DEPLOYMENT_TARGET"),
		"source_app", "welfare-dispatch",
		"version", constants.Version,
	)
}

type ctxLoggerKeyType string

// CtxLoggerKey is the context.Context key holding a *StructuredLoggerEntry.
const CtxLoggerKey ctxLoggerKeyType = "ctxLogger"

// StructuredLoggerEntry carries a request- or job-scoped logger. It satisfies
// chi's middleware.LogEntry so the request logger can store it on the request.
type StructuredLoggerEntry struct {
	Logger logrus.FieldLogger
}

func (l *StructuredLoggerEntry) Write(status, bytes int, header http.Header, elapsed time.Duration, extra interface{}) {
	l.Logger = l.Logger.WithFields(logrus.Fields{
		"resp_status": status, "resp_bytes_length": bytes,
		"resp_elapsed_ms": float64(elapsed.Nanoseconds()) / 1000000.0,
	})

	l.Logger.Infoln("request complete")
}

func (l *StructuredLoggerEntry) Panic(v interface{}, stack []byte) {
	l.Logger = l.Logger.WithFields(logrus.Fields{
		"stack": string(stack),
		"panic": fmt.Sprintf("%+v", v),
	})
}

// NewStructuredLoggerEntry stores a new entry wrapping logger on ctx.
func NewStructuredLoggerEntry(logger logrus.FieldLogger, ctx context.Context) context.Context {
	return context.WithValue(ctx, CtxLoggerKey, &StructuredLoggerEntry{Logger: logger})
}

// WithEntry stores an existing entry on ctx. Later SetLoggerFields calls mutate
// that entry, so its owner sees the added fields.
func WithEntry(ctx context.Context, entry *StructuredLoggerEntry) context.Context {
	return context.WithValue(ctx, CtxLoggerKey, entry)
}

// GetCtxLogger returns the logger stored on ctx, or the API logger when none is present.
func GetCtxLogger(ctx context.Context) logrus.FieldLogger {
	if entry, ok := ctx.Value(CtxLoggerKey).(*StructuredLoggerEntry); ok && entry.Logger != nil {
		return entry.Logger
	}
	return API
}

// SetCtxLogger adds a single field to the ctx logger.
func SetCtxLogger(ctx context.Context, key string, value interface{}) (context.Context, logrus.FieldLogger) {
	return SetLoggerFields(ctx, logrus.Fields{key: value})
}

// SetLoggerFields adds fields to the ctx logger. The returned context carries the updated logger.
func SetLoggerFields(ctx context.Context, fields logrus.Fields) (context.Context, logrus.FieldLogger) {
	entry, ok := ctx.Value(CtxLoggerKey).(*StructuredLoggerEntry)
	if !ok || entry.Logger == nil {
		entry = &StructuredLoggerEntry{Logger: API}
		ctx = context.WithValue(ctx, CtxLoggerKey, entry)
	}
	entry.Logger = entry.Logger.WithFields(fields)
	return ctx, entry.Logger
}

func WriteErrorWithFields(ctx context.Context, msg string, fields logrus.Fields) (context.Context, logrus.FieldLogger) {
	ctx, logger := SetLoggerFields(ctx, fields)
	logger.Error(msg)
	return ctx, logger
}

func WriteWarnWithFields(ctx context.Context, msg string, fields logrus.Fields) (context.Context, logrus.FieldLogger) {
	ctx, logger := SetLoggerFields(ctx, fields)
	logger.Warn(msg)
	return ctx, logger
}

func WriteInfoWithFields(ctx context.Context, msg string, fields logrus.Fields) (context.Context, logrus.FieldLogger) {
	ctx, logger := SetLoggerFields(ctx, fields)
	logger.Info(msg)
	return ctx, logger
}
