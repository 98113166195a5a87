package asiomysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"sync"
)

var errFakeNoMoreResults = errors.New("fakeProtoConn: no more results")

// fakeProtoConn is an in-memory protoConn double standing in for the
// real driver-backed implementation without needing a live MySQL
// server. connect answers at once; realQuery simulates a blocking
// round trip by waiting on fakeStatementResult.block when one is set.
// Every method is safe to call concurrently.
type fakeProtoConn struct {
	mu sync.Mutex

	failConnect error

	statements map[string]fakeStatementResult
	defaultRes fakeStatementResult
	last       fakeStatementResult

	closed bool
}

// fakeStatementResult describes how one SQL string should be answered.
type fakeStatementResult struct {
	err          error
	columns      []string
	rows         [][]driver.Value
	affectedRows uint64
	insertID     uint64
	isQuery      bool
	// block, if set, is waited on inside realQuery before it returns —
	// off the reactor goroutine, the same way a real slow query blocks
	// only the Spawn'd goroutine driving the wire round trip.
	block <-chan struct{}
}

func newFakeProtoConn() *fakeProtoConn {
	return &fakeProtoConn{
		statements: make(map[string]fakeStatementResult),
		defaultRes: fakeStatementResult{affectedRows: 0},
	}
}

func (f *fakeProtoConn) withResult(sql string, res fakeStatementResult) *fakeProtoConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statements[sql] = res
	return f
}

func (f *fakeProtoConn) withConnectError(err error) *fakeProtoConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failConnect = err
	return f
}

func (f *fakeProtoConn) connect(ctx context.Context, info ConnectionInfo) error {
	f.mu.Lock()
	fail := f.failConnect
	f.mu.Unlock()
	if fail != nil {
		return fail
	}
	return nil
}

func (f *fakeProtoConn) setCharacterSet(ctx context.Context, charset string) error {
	return nil
}

func (f *fakeProtoConn) realQuery(ctx context.Context, sql string) (bool, error) {
	f.mu.Lock()
	res, ok := f.statements[sql]
	if !ok {
		res = f.defaultRes
	}
	f.last = res
	f.mu.Unlock()
	if res.block != nil {
		<-res.block
	}
	if res.err != nil {
		return false, res.err
	}
	return res.isQuery, nil
}

func (f *fakeProtoConn) storeResult(ctx context.Context) (*ResultSet, error) {
	f.mu.Lock()
	res := f.last
	f.mu.Unlock()
	return newResultSet(res.columns, res.rows), nil
}

func (f *fakeProtoConn) okResult() (uint64, uint64, uint16) {
	f.mu.Lock()
	res := f.last
	f.mu.Unlock()
	return res.affectedRows, res.insertID, 0
}

func (f *fakeProtoConn) moreResults() bool { return false }

func (f *fakeProtoConn) nextResult(ctx context.Context) error {
	return errFakeNoMoreResults
}

func (f *fakeProtoConn) lastError() error { return nil }

func (f *fakeProtoConn) close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
