package asiomysql

import (
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"
	"time"
)

// ConnectionInfo bundles what a Connection needs to dial and
// authenticate, shared by reference among a Pool and every Connection
// it owns. Nothing in this library mutates a ConnectionInfo after a
// Pool is constructed with one.
type ConnectionInfo struct {
	User         string
	Host         string
	Port         int
	Password     string
	Database     string
	CharacterSet string
	// Params carries extra DSN query parameters (e.g. "tls", "timeout");
	// connection-string parsing itself stays out of scope, this only
	// builds one.
	Params map[string]string
}

func (c ConnectionInfo) addr() string {
	if c.Port > 0 {
		return fmt.Sprintf("%s:%d", c.Host, c.Port)
	}
	return fmt.Sprintf("%s:3306", c.Host)
}

// DSN renders a go-sql-driver/mysql compatible DSN string: username
// and password are passed through unescaped (the driver's own DSN
// grammar expects them raw up to the '@'), the database name is
// percent-escaped, and query parameter values are query-escaped and
// emitted in sorted key order so the same ConnectionInfo always
// renders the same string.
func (c ConnectionInfo) DSN() string {
	dbEscaped := url.PathEscape(c.Database)
	var q string
	if len(c.Params) > 0 {
		keys := make([]string, 0, len(c.Params))
		for k := range c.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", k, url.QueryEscape(c.Params[k])))
		}
		q = strings.Join(parts, "&")
	}
	auth := ""
	if c.User != "" {
		if c.Password != "" {
			auth = fmt.Sprintf("%s:%s@", c.User, c.Password)
		} else {
			auth = c.User + "@"
		}
	}
	dsn := fmt.Sprintf("%stcp(%s)/%s", auth, c.addr(), dbEscaped)
	if q != "" {
		dsn += "?" + q
	}
	return dsn
}

// maxSQLBuffer is the fixed high-water mark for pending SqlCmds:
// beyond this Pool.Execute fails fast with ErrPoolOverloaded rather
// than growing the queue unbounded.
const maxSQLBuffer = 200_000

// PoolConfig configures a Pool's population bounds and ambient
// behavior. MinSize Connections are created eagerly by Pool.Init;
// the population never exceeds MaxSize, and excess idle Connections
// above MinSize are retired as soon as they finish their current work.
type PoolConfig struct {
	MinSize int
	MaxSize int

	// ReactorQueueDepth sizes the reactor's task channel; 0 means an
	// unbuffered handoff.
	ReactorQueueDepth int

	Retry          RetryPolicy
	Telemetry      TelemetryConfig
	Logging        LoggingConfig
	MetricsEnabled bool
}

// DefaultPoolConfig returns a PoolConfig with conservative defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MinSize:           2,
		MaxSize:           10,
		ReactorQueueDepth: 64,
		Retry:             DefaultRetryPolicy(),
		Telemetry:         DefaultTelemetryConfig(),
		Logging:           DefaultLoggingConfig(),
		MetricsEnabled:    true,
	}
}

func (c PoolConfig) normalized() PoolConfig {
	if c.MinSize < 0 {
		c.MinSize = 0
	}
	if c.MaxSize < 1 {
		c.MaxSize = 1
	}
	if c.MaxSize < c.MinSize {
		c.MaxSize = c.MinSize
	}
	if c.ReactorQueueDepth < 0 {
		c.ReactorQueueDepth = 0
	}
	return c
}

// RetryPolicy configures the backoff applied when establishing a new
// Connection fails (see backoff.go). It never applies mid-statement or
// mid-transaction — reconnecting a broken Connection there is an
// explicit non-goal; a failed in-flight statement simply fails.
type RetryPolicy struct {
	MaxElapsedTime  time.Duration
	InitialInterval time.Duration
	Multiplier      float64
	MaxRetries      int
}

// DefaultRetryPolicy mirrors a conservative exponential backoff: a
// handful of attempts inside a few seconds, not an unbounded retry
// storm against a server that is genuinely down.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxElapsedTime:  10 * time.Second,
		InitialInterval: 100 * time.Millisecond,
		Multiplier:      2.0,
		MaxRetries:      5,
	}
}

// TelemetryConfig toggles OpenTelemetry tracing of connect phases and
// statement execution.
type TelemetryConfig struct {
	Enabled     bool
	TracerName  string
	ServiceName string
}

func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:    true,
		TracerName: "github.com/AStone/AsioBased-MysqlClient",
	}
}

// LoggingConfig toggles structured logging and the slow-query
// warning threshold.
type LoggingConfig struct {
	Enabled            bool
	SlowQueryThreshold time.Duration
	Level              slog.Level
}

func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Enabled:            true,
		SlowQueryThreshold: 500 * time.Millisecond,
		Level:              slog.LevelInfo,
	}
}
