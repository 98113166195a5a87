package asiomysql

import (
	"container/list"
	"context"

	"github.com/google/uuid"
)

// txSqlCmd is one buffered statement awaiting its turn on the bound
// Connection, the Go shape of mysql_transaction.hpp's private SqlCmd.
type txSqlCmd struct {
	sql        string
	resultCb   func(*ResultSet)
	errorCb    func(error)
	isRollback bool
}

// Transaction binds a single Connection exclusively: BEGIN is issued
// on construction, statements submitted via Execute are serialized
// through sqlBuffer, any statement failure triggers an automatic
// ROLLBACK that jumps the queue, and Close issues COMMIT unless the
// transaction already finished — ported from `mysql_transaction.hpp`.
type Transaction struct {
	ID   string
	conn *Connection

	reactor *Reactor
	ctx     context.Context

	commitCb  func(bool)
	releaseCb func()

	sqlBuffer *list.List

	// isWorking/finished are mutated only on the reactor goroutine,
	// exactly like Connection's conn_status/exec_status.
	isWorking bool
	finished  bool
}

// newTransaction constructs a Transaction bound to conn. releaseCb is
// the Pool's "usedup" hook (see Pool.beginTransaction): it fires
// exactly once, after the transaction has truly finished and its
// buffered statements have drained, so the Pool can hand conn back to
// handle_new_task.
func newTransaction(conn *Connection, reactor *Reactor, ctx context.Context, releaseCb func()) *Transaction {
	return &Transaction{
		ID:        uuid.NewString(),
		conn:      conn,
		reactor:   reactor,
		ctx:       ctx,
		releaseCb: releaseCb,
		sqlBuffer: list.New(),
	}
}

// SetCommitCallback installs the callback fired with true/false once
// the implicit COMMIT issued by Close completes or fails. It does not
// fire for an explicit rollback.
func (t *Transaction) SetCommitCallback(cb func(bool)) {
	t.commitCb = cb
}

// begin drives the BEGIN statement and installs the transaction's own
// completion handler on conn, displacing whatever completion hook the
// Pool had wired for ordinary pooled dispatch — conn is now exclusively
// owned by this Transaction until Close's release callback restores it.
func (t *Transaction) begin() {
	t.reactor.Post(func() {
		t.conn.SetCompleteCallback(func() { t.drain() })
		t.isWorking = true
		t.conn.Execute(t.ctx, "begin", func(*ResultSet) {}, func(err error) {
			t.finished = true
		})
	})
}

// Execute submits sql on this transaction's connection. If a statement
// is already in flight, sql is buffered (FIFO) and runs once the
// in-flight one completes. Any statement failure schedules an
// automatic ROLLBACK ahead of anything still buffered. Once the
// transaction has finished (committed or rolled back), Execute fails
// immediately with ErrTransactionFinished.
func (t *Transaction) Execute(sql string, resultCb func(*ResultSet), errorCb func(error)) {
	t.reactor.Post(func() {
		if t.finished {
			if errorCb != nil {
				errorCb(ErrTransactionFinished)
			}
			return
		}
		if !t.isWorking {
			t.isWorking = true
			t.conn.Execute(t.ctx, sql, resultCb, func(err error) {
				t.rollback()
				if errorCb != nil {
					errorCb(err)
				}
			})
			return
		}
		t.sqlBuffer.PushBack(&txSqlCmd{sql: sql, resultCb: resultCb, errorCb: errorCb})
	})
}

// rollback schedules a ROLLBACK ahead of any buffered statement (push
// front), or issues it immediately if the connection is idle.
func (t *Transaction) rollback() {
	t.reactor.Post(func() {
		if t.finished {
			return
		}
		// A connection that already went Bad (the statement that
		// triggered this rollback took it down via handle_error) can't
		// actually run a ROLLBACK on the server. Its completeCb will
		// never fire again — Connection only calls that on a successful
		// finishStatement — so drain() would never run to flush
		// sqlBuffer either; settle everything here instead of queuing
		// behind a drain that is never coming.
		if t.conn.Status() == ConnStatusBad {
			t.finished = true
			t.isWorking = false
			if t.sqlBuffer.Len() > 0 {
				for e := t.sqlBuffer.Front(); e != nil; e = e.Next() {
					cmd := e.Value.(*txSqlCmd)
					if cmd.errorCb != nil {
						cmd.errorCb(ErrTransactionFinished)
					}
				}
				t.sqlBuffer.Init()
			}
			return
		}
		if t.isWorking {
			t.sqlBuffer.PushFront(&txSqlCmd{
				sql:        "rollback",
				isRollback: true,
				resultCb:   func(*ResultSet) { t.finished = true },
				errorCb:    func(error) { t.finished = true },
			})
			return
		}
		t.isWorking = true
		t.conn.Execute(t.ctx, "rollback",
			func(*ResultSet) { t.finished = true },
			func(error) { t.finished = true },
		)
	})
}

// drain is execute_new_task: once the in-flight statement's completion
// fires, either start the next buffered one, fail every remaining
// buffered statement with ErrTransactionFinished if a rollback just
// landed, or — if the buffer is empty and the transaction is finished
// — invoke releaseCb exactly once.
func (t *Transaction) drain() {
	if !t.finished {
		front := t.sqlBuffer.Front()
		if front == nil {
			t.isWorking = false
			return
		}
		t.sqlBuffer.Remove(front)
		cmd := front.Value.(*txSqlCmd)
		t.conn.Execute(t.ctx, cmd.sql,
			func(rs *ResultSet) {
				if cmd.isRollback {
					t.finished = true
				}
				if cmd.resultCb != nil {
					cmd.resultCb(rs)
				}
			},
			func(err error) {
				if cmd.isRollback {
					t.finished = true
				} else {
					t.rollback()
				}
				if cmd.errorCb != nil {
					cmd.errorCb(err)
				}
			},
		)
		return
	}

	t.isWorking = false
	if t.sqlBuffer.Len() > 0 {
		for e := t.sqlBuffer.Front(); e != nil; e = e.Next() {
			cmd := e.Value.(*txSqlCmd)
			if cmd.errorCb != nil {
				cmd.errorCb(ErrTransactionFinished)
			}
		}
		t.sqlBuffer.Init()
		return
	}
	if t.releaseCb != nil {
		cb := t.releaseCb
		t.releaseCb = nil
		cb()
	}
}

// Close is the Go realization of the original's destructor: unless the
// transaction has already committed or rolled back, it issues an
// implicit COMMIT and reports the outcome via the commit callback set
// with SetCommitCallback. Always safe to call more than once or defer
// unconditionally.
func (t *Transaction) Close() {
	t.reactor.Post(func() {
		if t.finished {
			if t.releaseCb != nil {
				cb := t.releaseCb
				t.releaseCb = nil
				cb()
			}
			return
		}
		if t.isWorking {
			// BEGIN or a user statement is still in flight: queue COMMIT
			// behind it and anything buffered. drain issues it and fires
			// releaseCb once it completes; a repeated Close finds it queued.
			if back := t.sqlBuffer.Back(); back == nil || back.Value.(*txSqlCmd).sql != "commit" {
				commitCb := t.commitCb
				if commitCb == nil {
					commitCb = func(bool) {}
				}
				t.sqlBuffer.PushBack(&txSqlCmd{sql: "commit",
					resultCb: func(*ResultSet) { t.finished = true; commitCb(true) },
					errorCb:  func(error) { t.finished = true; commitCb(false) }})
			}
			return
		}

		releaseCb := t.releaseCb
		commitCb := t.commitCb
		t.releaseCb = nil
		t.conn.SetCompleteCallback(func() {
			if releaseCb != nil {
				releaseCb()
			}
		})
		t.conn.Execute(t.ctx, "commit",
			func(*ResultSet) {
				t.finished = true
				if commitCb != nil {
					commitCb(true)
				}
			},
			func(error) {
				t.finished = true
				if commitCb != nil {
					commitCb(false)
				}
			},
		)
	})
}
