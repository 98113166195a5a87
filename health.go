package asiomysql

import (
	"context"
	"fmt"
	"time"
)

// HealthStatus reports the outcome of one health check pass: population
// counts a reactor-driven Pool can actually observe (no *sql.DB.Stats()
// here), gathered via a single synchronous probe query rather than a
// background monitor goroutine — mid-flight reactor state has no safe
// snapshot to poll from outside the reactor goroutine.
type HealthStatus struct {
	Healthy      bool          `json:"healthy"`
	LastChecked  time.Time     `json:"last_checked"`
	ResponseTime time.Duration `json:"response_time"`
	Pool         PoolStats     `json:"pool"`
	Error        string        `json:"error,omitempty"`
}

// HealthCheckConfig configures Pool.SelfCheck.
type HealthCheckConfig struct {
	Timeout   time.Duration
	TestQuery string
}

// DefaultHealthCheckConfig returns conservative defaults for a
// reactor-driven Pool's on-demand probe.
func DefaultHealthCheckConfig() HealthCheckConfig {
	return HealthCheckConfig{
		Timeout:   5 * time.Second,
		TestQuery: "SELECT 1",
	}
}

// Ping runs the default probe query through the pool and reports
// whether it succeeded, the Go analogue of (*sql.DB).PingContext but
// routed through Pool.Execute like any other statement — there is no
// separate "just check the socket" primitive at this layer, since
// protoConn never exposes one.
func (p *Pool) Ping(ctx context.Context) error {
	status, err := p.SelfCheck(ctx, DefaultHealthCheckConfig())
	if err != nil {
		return err
	}
	if !status.Healthy {
		return fmt.Errorf("asiomysql: ping failed: %s", status.Error)
	}
	return nil
}

// SelfCheck performs one health check pass: it submits config.TestQuery
// to the pool, waits (bounded by config.Timeout) for the outcome, and
// reports Pool.Stats() alongside it.
func (p *Pool) SelfCheck(ctx context.Context, config HealthCheckConfig) (*HealthStatus, error) {
	if p == nil {
		return nil, fmt.Errorf("asiomysql: nil pool")
	}
	if config.TestQuery == "" {
		config = DefaultHealthCheckConfig()
	}

	start := time.Now()
	checkCtx, cancel := context.WithTimeout(ctx, config.Timeout)
	defer cancel()

	type outcome struct {
		err error
	}
	ch := make(chan outcome, 1)
	p.Execute(config.TestQuery,
		func(*ResultSet) { ch <- outcome{} },
		func(err error) { ch <- outcome{err: err} },
	)

	status := &HealthStatus{
		LastChecked: start,
		Pool:        p.Stats(),
	}

	select {
	case o := <-ch:
		status.ResponseTime = time.Since(start)
		if o.err != nil {
			status.Healthy = false
			status.Error = o.err.Error()
		} else {
			status.Healthy = true
		}
		return status, nil
	case <-checkCtx.Done():
		status.ResponseTime = time.Since(start)
		status.Healthy = false
		status.Error = checkCtx.Err().Error()
		return status, nil
	}
}
