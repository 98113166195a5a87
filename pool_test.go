package asiomysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"testing"
	"time"
)

func newTestPool(t *testing.T, minSize, maxSize int, protos ...*fakeProtoConn) *Pool {
	t.Helper()
	i := 0
	newProto := func() protoConn {
		if i < len(protos) {
			p := protos[i]
			i++
			return p
		}
		return newFakeProtoConn()
	}
	pool := NewPool(ConnectionInfo{Host: "localhost"}, minSize, maxSize,
		WithProtoFactory(newProto),
		WithPoolConfig(func() PoolConfig {
			cfg := DefaultPoolConfig()
			cfg.Retry = RetryPolicy{MaxElapsedTime: time.Second, InitialInterval: 5 * time.Millisecond, Multiplier: 2, MaxRetries: 3}
			cfg.Logging.Enabled = false
			cfg.MetricsEnabled = false
			cfg.Telemetry.Enabled = false
			return cfg
		}()),
	)
	if err := pool.Init(context.Background()); err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	t.Cleanup(pool.CloseAll)
	return pool
}

func TestPool_ExecuteUsesIdleConnection(t *testing.T) {
	pool := newTestPool(t, 1, 2)

	deadline := time.After(2 * time.Second)
	for pool.Stats().Idle == 0 {
		select {
		case <-deadline:
			t.Fatal("pool never reached an idle connection")
		case <-time.After(10 * time.Millisecond):
		}
	}

	resultCh := make(chan *ResultSet, 1)
	errCh := make(chan error, 1)
	pool.Execute("SELECT 1", func(rs *ResultSet) { resultCh <- rs }, func(err error) { errCh <- err })

	select {
	case <-resultCh:
	case err := <-errCh:
		t.Fatalf("unexpected error: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("statement never completed")
	}
}

func TestPool_ExecuteQueuesWhenAllConnectionsBusy(t *testing.T) {
	proto := newFakeProtoConn().withResult("SELECT 1", fakeStatementResult{
		isQuery: true,
		columns: []string{"one"},
		rows:    [][]driver.Value{{int64(1)}},
	})
	pool := newTestPool(t, 1, 1, proto)

	deadline := time.After(2 * time.Second)
	for pool.Stats().Idle == 0 {
		select {
		case <-deadline:
			t.Fatal("pool never reached an idle connection")
		case <-time.After(10 * time.Millisecond):
		}
	}

	block := make(chan struct{})
	firstDone := make(chan struct{})
	pool.Execute("BLOCK", func(*ResultSet) { <-block; close(firstDone) }, func(error) {})

	secondCh := make(chan *ResultSet, 1)
	pool.Execute("SELECT 1", func(rs *ResultSet) { secondCh <- rs }, func(err error) {})

	select {
	case <-secondCh:
		t.Fatal("second statement should not run before the first releases the only connection")
	case <-time.After(50 * time.Millisecond):
	}

	close(block)
	<-firstDone

	select {
	case <-secondCh:
	case <-time.After(2 * time.Second):
		t.Fatal("queued statement never ran after the connection freed up")
	}
}

func TestPool_ExecuteAfterCloseFailsWithErrPoolClosed(t *testing.T) {
	pool := newTestPool(t, 1, 1)
	pool.CloseAll()

	errCh := make(chan error, 1)
	pool.Execute("SELECT 1", nil, func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		if !errors.Is(err, ErrPoolClosed) {
			t.Fatalf("expected ErrPoolClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Execute after CloseAll never reported an error")
	}
}

func TestPool_NewTransactionCommits(t *testing.T) {
	pool := newTestPool(t, 1, 2)

	tx, err := pool.NewTransaction(context.Background())
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}

	commitCh := make(chan bool, 1)
	tx.SetCommitCallback(func(ok bool) { commitCh <- ok })
	tx.Close()

	select {
	case ok := <-commitCh:
		if !ok {
			t.Fatal("expected commit to succeed")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("commit never completed")
	}
}

func TestPool_StatsReflectsPopulation(t *testing.T) {
	pool := newTestPool(t, 2, 4)

	deadline := time.After(2 * time.Second)
	for pool.Stats().Total < 2 {
		select {
		case <-deadline:
			t.Fatal("pool never reached MinSize connections")
		case <-time.After(10 * time.Millisecond):
		}
	}
	stats := pool.Stats()
	if stats.MinSize != 2 || stats.MaxSize != 4 {
		t.Fatalf("unexpected bounds in stats: %+v", stats)
	}
}

// TestPool_RetiredConnectionsLeavePopulationAndAcceptNewWork guards
// against a retirement leak: once a burst of work grows the pool past
// MinSize and then drains, every excess Connection must actually be
// removed from the population (not just marked idle-forbidden), and
// the pool must still accept and complete new work afterward rather
// than wedging with a population pinned at its peak. The burst
// statements block inside realQuery (off the reactor goroutine, like a
// real slow query) so every Connection genuinely stays busy until
// released, instead of racing the reactor to completion.
func TestPool_RetiredConnectionsLeavePopulationAndAcceptNewWork(t *testing.T) {
	block := make(chan struct{})
	pool := newTestPool(t, 1, 4,
		newFakeProtoConn().withResult("BLOCK", fakeStatementResult{block: block}),
		newFakeProtoConn().withResult("BLOCK", fakeStatementResult{block: block}),
		newFakeProtoConn().withResult("BLOCK", fakeStatementResult{block: block}),
		newFakeProtoConn().withResult("BLOCK", fakeStatementResult{block: block}),
	)

	const burst = 4
	dones := make([]chan struct{}, burst)
	for i := 0; i < burst; i++ {
		dones[i] = make(chan struct{})
		done := dones[i]
		pool.Execute("BLOCK", func(*ResultSet) { close(done) }, func(error) {})
	}

	deadline := time.After(2 * time.Second)
	for pool.Stats().Total < burst {
		select {
		case <-deadline:
			t.Fatalf("pool never grew to %d connections, stats=%+v", burst, pool.Stats())
		case <-time.After(10 * time.Millisecond):
		}
	}

	close(block)
	for _, done := range dones {
		<-done
	}

	deadline = time.After(2 * time.Second)
	for pool.Stats().Total > 1 {
		select {
		case <-deadline:
			t.Fatalf("excess connections never retired, stats=%+v", pool.Stats())
		case <-time.After(10 * time.Millisecond):
		}
	}

	resultCh := make(chan *ResultSet, 1)
	pool.Execute("SELECT 1", func(rs *ResultSet) { resultCh <- rs }, func(err error) {
		t.Fatalf("unexpected error after drain: %v", err)
	})
	select {
	case <-resultCh:
	case <-time.After(2 * time.Second):
		t.Fatal("pool did not accept new work after retiring its burst connections")
	}
}
