package asiomysql

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/atomic"
)

// ConnStatus mirrors mysql_connection.hpp's ConnectStatus enum
// exactly: None, Connecting, SettingCharacterSet, Ok, Bad.
type ConnStatus int32

const (
	ConnStatusNone ConnStatus = iota
	ConnStatusConnecting
	ConnStatusSettingCharacterSet
	ConnStatusOk
	ConnStatusBad
)

func (s ConnStatus) String() string {
	switch s {
	case ConnStatusNone:
		return "none"
	case ConnStatusConnecting:
		return "connecting"
	case ConnStatusSettingCharacterSet:
		return "setting_character_set"
	case ConnStatusOk:
		return "ok"
	case ConnStatusBad:
		return "bad"
	default:
		return "unknown"
	}
}

// ExecStatus mirrors the ExecStatus enum: None, RealQuery, StoreResult,
// NextResult.
type ExecStatus int32

const (
	ExecStatusNone ExecStatus = iota
	ExecStatusRealQuery
	ExecStatusStoreResult
	ExecStatusNextResult
)

// connHooks lets a Connection's owner (normally a Pool) observe
// lifecycle and statement events without Connection importing
// anything about Pool's logging/telemetry/metrics machinery directly.
// All fields are optional; a nil hook is simply not called.
type connHooks struct {
	onConnected func(*Connection, error)
	onStatement func(*Connection, string, error)
	onClosed    func(*Connection, error)
}

// Connection is one MySQL session and the non-blocking protocol state
// machine that drives it. Every method that touches
// connStatus/execStatus/isWorking/callbacks must run on the owning
// Reactor's goroutine; external code reaches it only through Reactor.Post.
type Connection struct {
	ID   string
	info ConnectionInfo

	reactor *Reactor
	proto   protoConn
	hooks   connHooks

	connStatus atomic.Int32
	execStatus atomic.Int32
	isWorking  atomic.Bool

	activeSQL string

	resultCB    func(*ResultSet)
	errorCB     func(error)
	completeCB  func()
	connectedCB func(*Connection)
	closedCB    func(*Connection)
}

// NewConnection builds a Connection bound to reactor and driven over
// proto. id is an opaque caller-assigned identifier (Pool uses
// google/uuid); it exists purely for logging/metrics attribution.
func NewConnection(id string, reactor *Reactor, proto protoConn, info ConnectionInfo) *Connection {
	return &Connection{
		ID:      id,
		info:    info,
		reactor: reactor,
		proto:   proto,
	}
}

// SetConnectedCallback installs the callback fired once conn_status
// reaches Ok. Must be called before Connect.
func (c *Connection) SetConnectedCallback(cb func(*Connection)) { c.connectedCB = cb }

// SetClosedCallback installs the callback fired when the Connection
// transitions to Bad, whether during connect or mid-statement.
func (c *Connection) SetClosedCallback(cb func(*Connection)) { c.closedCB = cb }

// SetCompleteCallback installs the callback fired after the very last
// result set of a statement has been delivered successfully.
func (c *Connection) SetCompleteCallback(cb func()) { c.completeCB = cb }

// Status reports conn_status. Safe to call from any goroutine.
func (c *Connection) Status() ConnStatus { return ConnStatus(c.connStatus.Load()) }

// IsWorking reports whether a statement is currently in flight.
func (c *Connection) IsWorking() bool { return c.isWorking.Load() }

// Info returns the ConnectionInfo this Connection was constructed with.
func (c *Connection) Info() ConnectionInfo { return c.info }

// Connect drives the connect phase (dial, then negotiate a character
// set if one was requested). Must be called on the reactor goroutine;
// it immediately Spawns the blocking protocol round trip and Posts
// the outcome back. Idempotent only from ConnStatusNone, matching the
// original's single-shot async_connect.
// The connect attempt itself is retried per policy — exponential
// backoff bounded by policy.MaxElapsedTime/MaxRetries — but only here,
// before conn_status ever reaches Ok. A statement that later fails on
// an established Connection is never retried; that Connection is
// simply retired (mid-statement/mid-transaction reconnection is a
// Non-goal).
func (c *Connection) Connect(ctx context.Context, policy RetryPolicy) {
	if c.Status() != ConnStatusNone {
		return
	}
	c.connStatus.Store(int32(ConnStatusConnecting))

	c.reactor.Spawn(func() {
		err := connectWithRetry(ctx, policy, func() error {
			return c.proto.connect(ctx, c.info)
		})
		c.reactor.Post(func() {
			c.finishConnect(err)
		})
	})
}

func (c *Connection) finishConnect(err error) {
	if err != nil {
		c.connStatus.Store(int32(ConnStatusBad))
		wrapped := fmt.Errorf("%w: %v", ErrConnectFailed, err)
		if c.hooks.onConnected != nil {
			c.hooks.onConnected(c, wrapped)
		}
		if c.closedCB != nil {
			c.closedCB(c)
		}
		if c.hooks.onClosed != nil {
			c.hooks.onClosed(c, wrapped)
		}
		return
	}

	// SettingCharacterSet is assigned here even though the round trip
	// already happened inside proto.connect, so a caller polling
	// Status() mid-connect can distinguish "still negotiating charset"
	// from "fully Ok" even though, in this implementation, that window
	// is the brief moment between the protocol call returning and this
	// continuation running.
	if c.info.CharacterSet != "" {
		c.connStatus.Store(int32(ConnStatusSettingCharacterSet))
	}

	c.connStatus.Store(int32(ConnStatusOk))
	if c.hooks.onConnected != nil {
		c.hooks.onConnected(c, nil)
	}
	if c.connectedCB != nil {
		c.connectedCB(c)
	}
}

// Execute drives the execute phase: real_query, then store_result
// (and next_result, for multi-result statements). Requires
// Status() == ConnStatusOk and !IsWorking(); callers violating either
// precondition get an immediate synchronous error, never a silently
// dropped statement. Exactly one of resultCB/errorCB's families will
// eventually fire (resultCB possibly more than once, for multi-result
// statements), followed by completeCB on success.
func (c *Connection) Execute(ctx context.Context, sql string, resultCB func(*ResultSet), errorCB func(error)) error {
	if c.Status() != ConnStatusOk {
		return fmt.Errorf("asiomysql: connection %s is not ready (status=%s)", c.ID, c.Status())
	}
	if c.isWorking.Load() {
		return fmt.Errorf("asiomysql: connection %s already has a statement in flight", c.ID)
	}

	c.activeSQL = sql
	c.resultCB = resultCB
	c.errorCB = errorCB
	c.isWorking.Store(true)
	c.execStatus.Store(int32(ExecStatusRealQuery))

	c.reactor.Spawn(func() {
		c.runExecute(ctx, sql)
	})
	return nil
}

// runExecute runs entirely off the reactor goroutine (protocol calls
// block), posting back to the reactor after every phase exactly like
// an async_execute coroutine resuming after a socket-readiness wait.
func (c *Connection) runExecute(ctx context.Context, sql string) {
	hasResult, err := c.proto.realQuery(ctx, sql)
	if err != nil {
		c.reactor.Post(func() { c.handleError(err) })
		return
	}
	c.driveResultLoop(ctx, hasResult)
}

func (c *Connection) driveResultLoop(ctx context.Context, hasResult bool) {
	c.reactor.Post(func() {
		c.execStatus.Store(int32(ExecStatusStoreResult))
	})

	if !hasResult {
		affected, insertID, warnings := c.proto.okResult()
		rs := newResultSet(nil, nil)
		rs.affectedRows, rs.insertID, rs.warnings = affected, insertID, warnings
		c.deliverResultAndContinue(ctx, rs, nil)
		return
	}

	rs, err := c.proto.storeResult(ctx)
	c.deliverResultAndContinue(ctx, rs, err)
}

func (c *Connection) deliverResultAndContinue(ctx context.Context, rs *ResultSet, err error) {
	if err != nil {
		c.reactor.Post(func() { c.handleError(err) })
		return
	}

	more := c.proto.moreResults()
	c.reactor.Post(func() {
		cb := c.resultCB
		if cb != nil {
			cb(rs)
		}
		if !more {
			c.finishStatement(nil)
			return
		}
		c.execStatus.Store(int32(ExecStatusNextResult))
		c.reactor.Spawn(func() { c.runNextResult(ctx) })
	})
}

func (c *Connection) runNextResult(ctx context.Context) {
	err := c.proto.nextResult(ctx)
	if err != nil {
		c.reactor.Post(func() { c.handleError(err) })
		return
	}
	c.driveResultLoop(ctx, true)
}

// finishStatement clears statement callbacks, flips isWorking, and
// fires completeCB — the success path out of the execute phase.
func (c *Connection) finishStatement(err error) {
	sql := c.activeSQL
	c.errorCB = nil
	c.resultCB = nil
	c.isWorking.Store(false)
	c.execStatus.Store(int32(ExecStatusNone))
	if c.hooks.onStatement != nil {
		c.hooks.onStatement(c, sql, err)
	}
	if err == nil && c.completeCB != nil {
		c.completeCB()
	}
}

// handleError is the translation of mysql_connection.hpp's
// handle_error: build the error object, fire error_cb if a statement
// was in flight, clear callbacks, flip isWorking, fire closed_cb, and
// move conn_status to Bad. Invoked on the reactor goroutine only.
//
// The connection is always retired here, whether the failure was a
// transport-level drop or a server-reported statement rejection (a
// malformed query is as unusable a handle to keep as a severed
// socket, in this implementation). The error handed to the caller
// still distinguishes the two: a *mysql.MySQLError becomes a plain
// *QueryError so Classify reports ErrClassQuery/ErrClassRetryable,
// while anything else is wrapped in ErrConnectionLost.
func (c *Connection) handleError(err error) {
	c.execStatus.Store(int32(ExecStatusNone))
	wasWorking := c.isWorking.Load()

	qe := newQueryError(err)
	var mysqlErr *mysql.MySQLError
	statementErr := error(qe)
	if !errors.As(err, &mysqlErr) {
		statementErr = fmt.Errorf("%w: %v", ErrConnectionLost, qe)
	}

	if wasWorking {
		cb := c.errorCB
		c.errorCB = nil
		c.resultCB = nil
		c.isWorking.Store(false)
		if cb != nil {
			cb(statementErr)
		}
		if c.hooks.onStatement != nil {
			c.hooks.onStatement(c, c.activeSQL, statementErr)
		}
	}

	c.connStatus.Store(int32(ConnStatusBad))
	closeErr := fmt.Errorf("%w: %v", ErrConnectionLost, qe)
	if c.closedCB != nil {
		c.closedCB(c)
	}
	if c.hooks.onClosed != nil {
		c.hooks.onClosed(c, closeErr)
	}
}

// Close drives mysql_close and always succeeds from the caller's
// perspective — the underlying protocol error, if any, is discarded
// the same way the original destructor ignores mysql_close's result.
// It fires closedCB/onClosed exactly like an error-triggered close, so
// an owner never has to special-case a deliberate retirement versus a
// connection that went bad on its own. Idempotent: closing an already
// Bad connection is a no-op.
func (c *Connection) Close() {
	if c.connStatus.Load() == int32(ConnStatusBad) {
		return
	}
	_ = c.proto.close()
	c.connStatus.Store(int32(ConnStatusBad))
	if c.closedCB != nil {
		c.closedCB(c)
	}
	if c.hooks.onClosed != nil {
		c.hooks.onClosed(c, nil)
	}
}
