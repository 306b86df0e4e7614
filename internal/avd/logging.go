// Copyright (C) 2025 Forkbomb B.V.
// License: AGPL-3.0-only

package avd

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
)

var avdLogger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// SetLogger replaces the package logger. A nil logger restores the JSON
// stderr default.
func SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	avdLogger = logger
}

func logEvent(env Env, message string, fields ...any) {
	logEventLevel(env, slog.LevelInfo, message, fields...)
}

func logWarn(env Env, message string, fields ...any) {
	logEventLevel(env, slog.LevelWarn, message, fields...)
}

func logEventLevel(env Env, level slog.Level, message string, fields ...any) {
	baseFields := []any{"timestamp_ns", time.Now().UTC().UnixNano()}
	if env.CorrelationID != "" {
		baseFields = append(baseFields, "correlation_id", env.CorrelationID)
	}
	allFields := append(baseFields, fields...)
	avdLogger.Log(spanContext(env), level, message, allFields...)
	emitBridge(env, level, message, allFields)
}

// emitBridge mirrors a record to the OpenTelemetry log bridge. It is a no-op
// until a LoggerProvider is installed globally.
func emitBridge(env Env, level slog.Level, message string, fields []any) {
	var rec otellog.Record
	rec.SetTimestamp(time.Now())
	rec.SetBody(otellog.StringValue(message))
	rec.SetSeverityText(level.String())
	switch {
	case level >= slog.LevelError:
		rec.SetSeverity(otellog.SeverityError)
	case level >= slog.LevelWarn:
		rec.SetSeverity(otellog.SeverityWarn)
	case level >= slog.LevelInfo:
		rec.SetSeverity(otellog.SeverityInfo)
	default:
		rec.SetSeverity(otellog.SeverityDebug)
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key, ok := fields[i].(string)
		if !ok {
			continue
		}
		rec.AddAttributes(bridgeAttr(key, fields[i+1]))
	}
	global.GetLoggerProvider().Logger("avdrun").Emit(spanContext(env), rec)
}

func bridgeAttr(key string, value any) otellog.KeyValue {
	switch v := value.(type) {
	case string:
		return otellog.String(key, v)
	case int:
		return otellog.Int(key, v)
	case int64:
		return otellog.Int64(key, v)
	case bool:
		return otellog.Bool(key, v)
	case float64:
		return otellog.Float64(key, v)
	case time.Duration:
		return otellog.String(key, v.String())
	default:
		return otellog.String(key, fmt.Sprint(v))
	}
}

type lineLogWriter struct {
	env    Env
	fields []any
	buffer []byte
	msg    string
}

func (writer *lineLogWriter) Write(payload []byte) (int, error) {
	writer.buffer = append(writer.buffer, payload...)
	for {
		newlineIndex := bytes.IndexByte(writer.buffer, '\n')
		if newlineIndex == -1 {
			break
		}
		line := strings.TrimSpace(string(writer.buffer[:newlineIndex]))
		writer.buffer = writer.buffer[newlineIndex+1:]
		if line != "" {
			logEvent(writer.env, writer.msg, append(writer.fields, "line", line)...)
		}
	}
	return len(payload), nil
}

func newLineLogWriterWithMessage(env Env, message string, fields ...any) io.Writer {
	return &lineLogWriter{
		env:    env,
		fields: fields,
		msg:    message,
	}
}

func newCommandLogWriter(env Env, command string, args []string) io.Writer {
	fields := []any{"command", command, "stream", "output"}
	if len(args) > 0 {
		fields = append(fields, "args", strings.Join(args, " "))
	}
	return newLineLogWriterWithMessage(env, "command output", fields...)
}
