package asiomysql

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// sqlCmd is a queued, not-yet-dispatched pooled statement — the Go
// shape of mysql_connection.hpp's SqlCmd.
type sqlCmd struct {
	sql      string
	resultCb func(*ResultSet)
	errorCb  func(error)
}

// transRequest is a queued new-transaction request awaiting an idle
// Connection.
type transRequest struct {
	cb func(*Transaction, error)
}

// Pool owns a bounded population of Connections and routes statement
// and transaction requests to them. Exactly one
// Reactor (Pool.reactor, drawn from Pool.reactorGroup) ever mutates
// Connection/Transaction state; Pool's own three sets and two queues
// are additionally guarded by mu so client goroutines can submit work
// without round-tripping through the reactor first.
type Pool struct {
	name string
	info ConnectionInfo
	cfg  PoolConfig

	reactorGroup *ReactorGroup
	reactor      *Reactor
	newProto     func() protoConn

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	all          map[*Connection]struct{}
	idle         map[*Connection]struct{}
	busy         map[*Connection]struct{}
	pendingSQL   *list.List
	pendingTrans *list.List
	closed       bool

	loggingEnabled   bool
	logger           *slog.Logger
	telemetryEnabled bool
	metricsEnabled   bool
	metrics          *poolMetrics
	meterProvider    metric.MeterProvider

	spanMu          sync.Mutex
	connectSpans    map[*Connection]trace.Span
	statementStarts map[*Connection]time.Time
}

// PoolOption configures a Pool at construction time.
type PoolOption func(*Pool)

// WithPoolConfig overrides Retry/Telemetry/Logging/MetricsEnabled/
// ReactorQueueDepth; MinSize/MaxSize stay whatever NewPool's explicit
// parameters set.
func WithPoolConfig(cfg PoolConfig) PoolOption {
	return func(p *Pool) {
		minSize, maxSize := p.cfg.MinSize, p.cfg.MaxSize
		p.cfg = cfg
		p.cfg.MinSize, p.cfg.MaxSize = minSize, maxSize
	}
}

// WithName sets the pool's identity for logging/metrics attribution
// (the db.client.connection.pool.name attribute).
func WithName(name string) PoolOption {
	return func(p *Pool) { p.name = name }
}

// WithProtoFactory overrides how each Connection's protoConn is built.
// Production code never needs this; tests inject a fake protoConn
// through it (see protocol_fake_test.go).
func WithProtoFactory(f func() protoConn) PoolOption {
	return func(p *Pool) { p.newProto = f }
}

// WithReactorGroup makes the Pool take its Reactor from g instead of
// the single private Reactor NewPool would otherwise create.
// group.Next() is called once, at construction, and every Connection
// of this Pool is bound to that one Reactor; the Pool does not spread
// its Connections over the group's other Reactors. Init runs the whole
// group.
func WithReactorGroup(g *ReactorGroup) PoolOption {
	return func(p *Pool) { p.reactorGroup = g }
}

// NewPool constructs a Pool bound to info with the given population
// bounds. Call Init before submitting any work.
func NewPool(info ConnectionInfo, minSize, maxSize int, opts ...PoolOption) *Pool {
	p := &Pool{
		name:         fmt.Sprintf("pool-%s", uuid.NewString()[:8]),
		info:         info,
		cfg:          DefaultPoolConfig(),
		all:          make(map[*Connection]struct{}),
		idle:         make(map[*Connection]struct{}),
		busy:         make(map[*Connection]struct{}),
		pendingSQL:   list.New(),
		pendingTrans: list.New(),
		newProto:     func() protoConn { return newDriverProtoConn() },

		connectSpans:    make(map[*Connection]trace.Span),
		statementStarts: make(map[*Connection]time.Time),
	}
	p.cfg.MinSize = minSize
	p.cfg.MaxSize = maxSize

	for _, opt := range opts {
		opt(p)
	}
	p.cfg = p.cfg.normalized()

	if p.reactorGroup == nil {
		p.reactorGroup = NewReactorGroup(1, p.cfg.ReactorQueueDepth)
	}
	p.reactor = p.reactorGroup.Next()

	if p.cfg.Logging.Enabled {
		p.EnableLogging(true)
	}
	p.telemetryEnabled = p.cfg.Telemetry.Enabled
	if p.cfg.MetricsEnabled {
		p.EnableMetrics(true)
	}
	return p
}

// Init starts the underlying reactor(s) and creates MinSize
// Connections, mirroring mysql_connection_pool.hpp's init(): each
// Connection is spawned fire-and-forget (Init does not wait for any
// of them to finish connecting).
func (p *Pool) Init(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	go p.reactorGroup.Run(p.ctx)

	for i := 0; i < p.cfg.MinSize; i++ {
		p.reactor.Post(func() { p.createConnection() })
	}
	return nil
}

// createConnection builds one Connection, wires its lifecycle
// callbacks back into this Pool, registers it in `all`, and starts
// connecting. If the pool is closed or `all` already holds MaxSize
// Connections, the new one is dropped unregistered and never connects.
// Always called on the reactor goroutine.
func (p *Pool) createConnection() *Connection {
	id := uuid.NewString()
	conn := NewConnection(id, p.reactor, p.newProto(), p.info)
	p.wireConnection(conn)

	p.mu.Lock()
	closed := p.closed
	full := len(p.all) >= p.cfg.MaxSize
	if !closed && !full {
		p.all[conn] = struct{}{}
	}
	p.mu.Unlock()
	if closed || full {
		return conn
	}

	spanCtx, span := p.startSpan(p.ctx, "connect", "")
	p.setConnectSpan(conn, span)
	conn.Connect(spanCtx, p.cfg.Retry)
	return conn
}

// setConnectSpan/takeConnectSpan hand a connect span from
// createConnection across to the onConnected hook, since Connect's
// outcome only becomes known asynchronously on a later reactor tick.
func (p *Pool) setConnectSpan(conn *Connection, span trace.Span) {
	p.spanMu.Lock()
	p.connectSpans[conn] = span
	p.spanMu.Unlock()
}

func (p *Pool) finishConnectSpan(conn *Connection, err error) {
	p.spanMu.Lock()
	span, ok := p.connectSpans[conn]
	delete(p.connectSpans, conn)
	p.spanMu.Unlock()
	if ok {
		p.finishSpan(span, err)
	}
}

func (p *Pool) setStatementStart(conn *Connection, t time.Time) {
	p.spanMu.Lock()
	p.statementStarts[conn] = t
	p.spanMu.Unlock()
}

func (p *Pool) takeStatementStart(conn *Connection) (time.Time, bool) {
	p.spanMu.Lock()
	t, ok := p.statementStarts[conn]
	delete(p.statementStarts, conn)
	p.spanMu.Unlock()
	return t, ok
}

func (p *Pool) wireConnection(conn *Connection) {
	conn.hooks = connHooks{
		onConnected: func(c *Connection, err error) {
			p.finishConnectSpan(c, err)
			p.logConnectionEvent(p.ctx, c.ID, "connect", err)
		},
		onStatement: func(c *Connection, sql string, err error) {
			start, ok := p.takeStatementStart(c)
			var dur time.Duration
			if ok {
				dur = time.Since(start)
			}
			p.logStatement(p.ctx, sql, dur, err)
			p.recordStatement(p.ctx, dur, err)
		},
		onClosed: func(c *Connection, err error) {
			p.logConnectionEvent(p.ctx, c.ID, "close", err)
		},
	}
	conn.SetConnectedCallback(func(c *Connection) {
		p.mu.Lock()
		p.busy[c] = struct{}{}
		p.mu.Unlock()
		p.recordConnectionState(p.ctx, 1, stateUsed)
		p.handleNewTask(c)
	})
	conn.SetClosedCallback(func(c *Connection) {
		p.mu.Lock()
		_, wasIdle := p.idle[c]
		_, wasBusy := p.busy[c]
		delete(p.idle, c)
		delete(p.busy, c)
		delete(p.all, c)
		p.mu.Unlock()
		if wasIdle {
			p.recordConnectionState(p.ctx, -1, stateIdle)
		}
		if wasBusy {
			p.recordConnectionState(p.ctx, -1, stateUsed)
		}
	})
	conn.SetCompleteCallback(func() { p.handleNewTask(conn) })
}

// Execute submits a pooled (non-transactional) statement: use an idle
// Connection if one's free, otherwise queue it (spawning a fresh
// Connection if the population still has room). Safe to call from any
// goroutine.
func (p *Pool) Execute(sql string, resultCb func(*ResultSet), errorCb func(error)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if errorCb != nil {
			errorCb(ErrPoolClosed)
		}
		return
	}

	var conn *Connection
	overloaded := false
	if len(p.idle) > 0 {
		for c := range p.idle {
			conn = c
			break
		}
		delete(p.idle, conn)
		p.busy[conn] = struct{}{}
	} else if p.pendingSQL.Len() > maxSQLBuffer {
		overloaded = true
	} else {
		p.pendingSQL.PushBack(&sqlCmd{sql: sql, resultCb: resultCb, errorCb: errorCb})
		if len(p.all) < p.cfg.MaxSize {
			p.reactor.Post(func() { p.createConnection() })
		}
	}
	p.mu.Unlock()

	if overloaded {
		if errorCb != nil {
			errorCb(ErrPoolOverloaded)
		}
		return
	}
	if conn != nil {
		p.recordConnectionState(p.ctx, -1, stateIdle)
		p.recordConnectionState(p.ctx, 1, stateUsed)
		p.dispatch(conn, sql, resultCb, errorCb)
	}
}

// dispatch posts the actual Connection.Execute call onto the reactor,
// stamping the statement's start time for logStatement/recordStatement.
func (p *Pool) dispatch(conn *Connection, sql string, resultCb func(*ResultSet), errorCb func(error)) {
	p.setStatementStart(conn, time.Now())
	p.reactor.Post(func() {
		_, span := p.startSpan(p.ctx, "execute", sql)
		// moreResults() is always false (protocol.go), so exactly one
		// resultCb-or-errorCb fires per statement; finishing the span
		// at that single call site is safe.
		wrappedResult := func(rs *ResultSet) {
			p.finishSpan(span, nil)
			if resultCb != nil {
				resultCb(rs)
			}
		}
		wrappedErr := func(err error) {
			p.finishSpan(span, err)
			if errorCb != nil {
				errorCb(err)
			}
		}
		if err := conn.Execute(p.ctx, sql, wrappedResult, wrappedErr); err != nil {
			p.finishSpan(span, err)
			if errorCb != nil {
				errorCb(err)
			}
		}
	})
}

// handleNewTask is the Go realization of handle_new_task: drain
// pendingSQL first, then pendingTrans, else retire the Connection if
// the population exceeds MinSize, else return it to idle.
func (p *Pool) handleNewTask(conn *Connection) {
	var cmd *sqlCmd
	var trans *transRequest
	retire := false

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.pendingSQL.Len() > 0 {
		front := p.pendingSQL.Front()
		p.pendingSQL.Remove(front)
		cmd = front.Value.(*sqlCmd)
	} else if p.pendingTrans.Len() > 0 {
		front := p.pendingTrans.Front()
		p.pendingTrans.Remove(front)
		trans = front.Value.(*transRequest)
	} else if len(p.all) > p.cfg.MinSize {
		retire = true
	} else {
		delete(p.busy, conn)
		p.idle[conn] = struct{}{}
	}
	p.mu.Unlock()

	switch {
	case cmd != nil:
		p.dispatch(conn, cmd.sql, cmd.resultCb, cmd.errorCb)
	case trans != nil:
		p.beginTransaction(conn, trans.cb)
	case retire:
		// conn stays in p.busy until Close fires closedCB, which removes
		// it from all/busy and records the metric delta — the same
		// bookkeeping an error-triggered close goes through.
		conn.Close()
	default:
		p.recordConnectionState(p.ctx, -1, stateUsed)
		p.recordConnectionState(p.ctx, 1, stateIdle)
	}
}

// NewTransactionAsync acquires a Connection and hands a ready
// Transaction to cb once BEGIN has been dispatched (not necessarily
// completed).
func (p *Pool) NewTransactionAsync(cb func(*Transaction, error)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		cb(nil, ErrPoolClosed)
		return
	}

	var conn *Connection
	overloaded := false
	if len(p.idle) > 0 {
		for c := range p.idle {
			conn = c
			break
		}
		delete(p.idle, conn)
		p.busy[conn] = struct{}{}
	} else if p.pendingTrans.Len() > maxSQLBuffer {
		overloaded = true
	} else {
		p.pendingTrans.PushBack(&transRequest{cb: cb})
		if len(p.all) < p.cfg.MaxSize {
			p.reactor.Post(func() { p.createConnection() })
		}
	}
	p.mu.Unlock()

	if overloaded {
		cb(nil, ErrPoolOverloaded)
		return
	}
	if conn != nil {
		p.beginTransaction(conn, cb)
	}
}

// NewTransaction is a blocking convenience wrapper over
// NewTransactionAsync, matching the original's MysqlClient::new_transaction
// (promise/future) — useful for callers who don't want to write a
// callback, without changing the underlying async contract.
func (p *Pool) NewTransaction(ctx context.Context) (*Transaction, error) {
	type outcome struct {
		tx  *Transaction
		err error
	}
	ch := make(chan outcome, 1)
	p.NewTransactionAsync(func(tx *Transaction, err error) {
		ch <- outcome{tx, err}
	})
	select {
	case o := <-ch:
		return o.tx, o.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// beginTransaction is begin_trans: construct a Transaction bound to
// conn with a release callback that reinserts conn into the pool via
// handleNewTask once the transaction truly finishes, then issue BEGIN
// and deliver the Transaction to cb.
func (p *Pool) beginTransaction(conn *Connection, cb func(*Transaction, error)) {
	var tx *Transaction
	releaseCb := func() {
		if conn.Status() == ConnStatusBad {
			return
		}
		p.mu.Lock()
		_, stillMember := p.all[conn]
		p.mu.Unlock()
		if !stillMember {
			return
		}
		conn.SetCompleteCallback(func() { p.handleNewTask(conn) })
		p.handleNewTask(conn)
	}

	tx = newTransaction(conn, p.reactor, p.ctx, releaseCb)
	tx.begin()
	p.reactor.Post(func() {
		cb(tx, nil)
	})
}

// CloseAll terminates the pool: every Connection is closed, all sets
// are cleared, and anything still queued fails with ErrPoolClosed.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	conns := make([]*Connection, 0, len(p.all))
	for c := range p.all {
		conns = append(conns, c)
	}
	p.all = make(map[*Connection]struct{})
	p.idle = make(map[*Connection]struct{})
	p.busy = make(map[*Connection]struct{})

	var sqlCmds []*sqlCmd
	for e := p.pendingSQL.Front(); e != nil; e = e.Next() {
		sqlCmds = append(sqlCmds, e.Value.(*sqlCmd))
	}
	p.pendingSQL.Init()

	var transReqs []*transRequest
	for e := p.pendingTrans.Front(); e != nil; e = e.Next() {
		transReqs = append(transReqs, e.Value.(*transRequest))
	}
	p.pendingTrans.Init()
	p.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	for _, cmd := range sqlCmds {
		if cmd.errorCb != nil {
			cmd.errorCb(ErrPoolClosed)
		}
	}
	for _, tr := range transReqs {
		tr.cb(nil, ErrPoolClosed)
	}

	if p.cancel != nil {
		p.cancel()
	}
}

// Stats returns a point-in-time population snapshot.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PoolStats{
		Idle:    len(p.idle),
		Busy:    len(p.busy),
		Pending: p.pendingSQL.Len() + p.pendingTrans.Len(),
		Total:   len(p.all),
		MinSize: p.cfg.MinSize,
		MaxSize: p.cfg.MaxSize,
	}
}
