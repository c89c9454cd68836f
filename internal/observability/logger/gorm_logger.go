package logger

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

const slowQueryThreshold = 200 * time.Millisecond

// QueryLogger routes GORM's logging callbacks onto the request-scoped zap
// logger, so a query logged inside a booking request carries that request's
// fields. Bound parameters are stripped before logging: customer phone
// numbers and emails ride in them.
type QueryLogger struct {
	level gormlogger.LogLevel
}

func NewQueryLogger() *QueryLogger {
	return &QueryLogger{level: gormlogger.Warn}
}

func (l *QueryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	next := *l
	next.level = level
	return &next
}

func (l *QueryLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Info, msg, data)
}

func (l *QueryLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Warn, msg, data)
}

func (l *QueryLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	l.message(ctx, gormlogger.Error, msg, data)
}

func (l *QueryLogger) message(ctx context.Context, level gormlogger.LogLevel, msg string, data []interface{}) {
	if l.level < level {
		return
	}
	fields := []zap.Field{zap.String("component", "gorm")}
	if len(data) > 0 {
		fields = append(fields, zap.Any("data", data))
	}
	log := FromContext(ctx)
	switch level {
	case gormlogger.Error:
		log.Error(msg, fields...)
	case gormlogger.Warn:
		log.Warn(msg, fields...)
	default:
		log.Info(msg, fields...)
	}
}

// Trace logs finished statements: errors at error level, slow queries at
// warn, everything else only when the level is turned up to info.
func (l *QueryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}

	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error && !errors.Is(err, gormlogger.ErrRecordNotFound):
		l.emitQuery(ctx, fc, elapsed, err, gormlogger.Error)
	case elapsed > slowQueryThreshold && l.level >= gormlogger.Warn:
		l.emitQuery(ctx, fc, elapsed, nil, gormlogger.Warn)
	case l.level >= gormlogger.Info:
		l.emitQuery(ctx, fc, elapsed, nil, gormlogger.Info)
	}
}

// ParamsFilter drops bound values so customer contact details never reach
// the log stream.
func (l *QueryLogger) ParamsFilter(ctx context.Context, sql string, params ...interface{}) (string, []interface{}) {
	return sql, nil
}

func (l *QueryLogger) emitQuery(ctx context.Context, fc func() (string, int64), elapsed time.Duration, err error, level gormlogger.LogLevel) {
	sql, rows := fc()
	fields := []zap.Field{
		zap.String("component", "gorm"),
		zap.String("query", strings.TrimSpace(sql)),
		zap.String("verb", queryVerb(sql)),
		zap.Duration("elapsed", elapsed),
	}
	if rows >= 0 {
		fields = append(fields, zap.Int64("rows", rows))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	log := FromContext(ctx)
	switch level {
	case gormlogger.Error:
		log.Error("db.query", fields...)
	case gormlogger.Warn:
		log.Warn("db.query", fields...)
	default:
		log.Debug("db.query", fields...)
	}
}

// queryVerb names the statement for log filtering, skipping a leading CTE.
func queryVerb(sql string) string {
	for _, token := range strings.Fields(strings.ToUpper(sql)) {
		switch strings.Trim(token, "();") {
		case "SELECT", "INSERT", "UPDATE", "DELETE":
			return strings.Trim(token, "();")
		}
	}
	return "OTHER"
}

var _ gormlogger.Interface = (*QueryLogger)(nil)
