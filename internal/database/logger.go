package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	"github.com/alex65536/bracketd/internal/util/httputil"
	"github.com/alex65536/bracketd/internal/util/slogx"
	"github.com/mattn/go-colorable"
	"gorm.io/gorm/logger"
)

type slogLogger struct {
	log   *slog.Logger
	level logger.LogLevel
	slow  time.Duration
}

// Logger sends gorm output to log. Debug mode switches to gorm's own colorful
// logger and prints every statement.
func Logger(srcLog *slog.Logger, o Options) logger.Interface {
	if o.Debug {
		return logger.New(
			log.New(colorable.NewColorableStdout(), "", log.LstdFlags),
			logger.Config{
				SlowThreshold:             o.SlowThreshold,
				LogLevel:                  logger.Info,
				IgnoreRecordNotFoundError: false,
				Colorful:                  true,
			},
		)
	}
	return &slogLogger{
		log:   srcLog.With(slog.String("component", "gorm")),
		level: logger.Warn,
		slow:  o.SlowThreshold,
	}
}

func (l *slogLogger) LogMode(level logger.LogLevel) logger.Interface {
	res := *l
	res.level = level
	return &res
}

func (l *slogLogger) withReq(ctx context.Context) *slog.Logger {
	if id := httputil.ExtractReqID(ctx); id != "" {
		return l.log.With(slog.String("req_id", id))
	}
	return l.log
}

func (l *slogLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		l.withReq(ctx).Info(fmt.Sprintf(msg, data...))
	}
}

func (l *slogLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		l.withReq(ctx).Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *slogLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		l.withReq(ctx).Error(fmt.Sprintf(msg, data...))
	}
}

func (l *slogLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= logger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, logger.ErrRecordNotFound) && l.level >= logger.Error:
		sql, rows := fc()
		l.withReq(ctx).Error("sql error",
			slog.Duration("elapsed", elapsed),
			slog.Int64("rows", rows),
			slog.String("sql", sql),
			slogx.Err(err),
		)
	case l.slow > 0 && elapsed > l.slow && l.level >= logger.Warn:
		sql, rows := fc()
		l.withReq(ctx).Warn("slow sql",
			slog.Duration("elapsed", elapsed),
			slog.Int64("rows", rows),
			slog.String("sql", sql),
		)
	}
}
