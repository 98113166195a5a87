package asiomysql

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/go-sql-driver/mysql"
)

var defaultLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
	Level: slog.LevelInfo,
}))

// EnableLogging turns structured logging on or off for this Pool,
// installing the package default slog.Logger if none was set yet.
func (p *Pool) EnableLogging(enabled bool) {
	if p == nil {
		return
	}
	p.loggingEnabled = enabled
	if enabled && p.logger == nil {
		p.logger = defaultLogger
	}
}

// SetLogger installs a custom *slog.Logger, implicitly enabling logging.
func (p *Pool) SetLogger(logger *slog.Logger) {
	if p == nil {
		return
	}
	p.logger = logger
	p.loggingEnabled = true
}

// logStatement records one Connection.Execute / Transaction.Execute
// call: success or QueryError, duration, and a slow-query warning once
// duration exceeds the configured threshold.
func (p *Pool) logStatement(ctx context.Context, sql string, duration time.Duration, err error) {
	if p == nil || !p.loggingEnabled || p.logger == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("sql", sql),
		slog.Float64("duration_ms", float64(duration.Nanoseconds())/1e6),
	}

	if err != nil {
		attrs = append(attrs,
			slog.String("status", "error"),
			slog.String("error", err.Error()),
		)
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) {
			attrs = append(attrs, slog.Int("error_code", int(mysqlErr.Number)))
		}
	} else {
		attrs = append(attrs, slog.String("status", "success"))
	}

	if p.cfg.Logging.SlowQueryThreshold > 0 && duration > p.cfg.Logging.SlowQueryThreshold {
		p.logger.LogAttrs(ctx, slog.LevelWarn, "slow statement", attrs...)
		return
	}

	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	p.logger.LogAttrs(ctx, level, "statement executed", attrs...)
}

// logConnectionEvent records a connect/close lifecycle transition for
// one Connection.
func (p *Pool) logConnectionEvent(ctx context.Context, connID string, event string, err error) {
	if p == nil || !p.loggingEnabled || p.logger == nil {
		return
	}
	attrs := []slog.Attr{
		slog.String("connection_id", connID),
		slog.String("event", event),
	}
	if err != nil {
		attrs = append(attrs, slog.String("status", "error"), slog.String("error", err.Error()))
		p.logger.LogAttrs(ctx, slog.LevelError, "connection event", attrs...)
		return
	}
	attrs = append(attrs, slog.String("status", "success"))
	p.logger.LogAttrs(ctx, slog.LevelDebug, "connection event", attrs...)
}

// logTransactionEvent records BEGIN/COMMIT/ROLLBACK outcomes.
func (p *Pool) logTransactionEvent(ctx context.Context, event string, err error) {
	if p == nil || !p.loggingEnabled || p.logger == nil {
		return
	}
	attrs := []slog.Attr{slog.String("event", event)}
	if err != nil {
		attrs = append(attrs, slog.String("status", "error"), slog.String("error", err.Error()))
		p.logger.LogAttrs(ctx, slog.LevelError, "transaction event", attrs...)
		return
	}
	attrs = append(attrs, slog.String("status", "success"))
	p.logger.LogAttrs(ctx, slog.LevelInfo, "transaction event", attrs...)
}

// PoolStats is a point-in-time snapshot of population counts.
type PoolStats struct {
	Idle    int
	Busy    int
	Pending int
	Total   int
	MinSize int
	MaxSize int
}

// logPoolStats emits a debug-level snapshot of pool population.
func (p *Pool) logPoolStats(ctx context.Context, stats PoolStats) {
	if p == nil || !p.loggingEnabled || p.logger == nil {
		return
	}
	p.logger.LogAttrs(ctx, slog.LevelDebug, "pool stats",
		slog.Int("idle", stats.Idle),
		slog.Int("busy", stats.Busy),
		slog.Int("pending", stats.Pending),
		slog.Int("total", stats.Total),
		slog.Int("min_size", stats.MinSize),
		slog.Int("max_size", stats.MaxSize),
	)
}
