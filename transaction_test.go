package asiomysql

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestTransaction_CommitOnClose(t *testing.T) {
	r := newTestReactor(t)
	proto := newFakeProtoConn()
	conn := mustConnect(t, r, proto)

	released := make(chan struct{})
	tx := newTransaction(conn, r, context.Background(), func() { close(released) })
	tx.begin()

	stepDone := make(chan error, 1)
	tx.Execute("INSERT INTO t VALUES (1)", func(*ResultSet) { stepDone <- nil }, func(err error) { stepDone <- err })
	select {
	case err := <-stepDone:
		if err != nil {
			t.Fatalf("unexpected statement error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("statement never completed")
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
	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("releaseCb never fired after commit")
	}
}

func TestTransaction_FailedStatementRollsBackAndFinishes(t *testing.T) {
	r := newTestReactor(t)
	proto := newFakeProtoConn().withResult("BAD", fakeStatementResult{err: errors.New("boom")})
	conn := mustConnect(t, r, proto)

	tx := newTransaction(conn, r, context.Background(), func() {})
	tx.begin()

	errCh := make(chan error, 1)
	tx.Execute("BAD", nil, func(err error) { errCh <- err })

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected an error from the failed statement")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("failed statement never reported an error")
	}

	// The connection went Bad handling the error; a subsequent Execute
	// against this transaction must fail with ErrTransactionFinished
	// once the rollback path has had a chance to mark it finished.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		done := make(chan error, 1)
		tx.Execute("SELECT 1", nil, func(err error) { done <- err })
		if err := <-done; errors.Is(err, ErrTransactionFinished) {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("transaction never reached the finished state after a failed statement")
}

func TestTransaction_ExecuteAfterFinishedFails(t *testing.T) {
	r := newTestReactor(t)
	proto := newFakeProtoConn()
	conn := mustConnect(t, r, proto)

	tx := newTransaction(conn, r, context.Background(), func() {})
	tx.begin()

	commitCh := make(chan bool, 1)
	tx.SetCommitCallback(func(ok bool) { commitCh <- ok })
	tx.Close()
	<-commitCh

	errCh := make(chan error, 1)
	tx.Execute("INSERT INTO t VALUES (1)", nil, func(err error) { errCh <- err })
	select {
	case err := <-errCh:
		if !errors.Is(err, ErrTransactionFinished) {
			t.Fatalf("expected ErrTransactionFinished, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute after finish never returned")
	}
}
