package asiomysql

import (
	"errors"
	"strings"
	"testing"

	mysql "github.com/go-sql-driver/mysql"
)

func TestClassify_Sentinels(t *testing.T) {
	cases := []struct {
		err  error
		want ErrorClass
	}{
		{ErrConnectFailed, ErrClassConnect},
		{ErrConnectionLost, ErrClassConnectionLost},
		{ErrTransactionFinished, ErrClassTransactionFinished},
		{ErrPoolOverloaded, ErrClassPoolOverloaded},
		{ErrPoolClosed, ErrClassPoolClosed},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestClassify_RetryableErrnos(t *testing.T) {
	for _, code := range []uint16{1205, 1213, 1290} {
		qe := newQueryError(&mysql.MySQLError{Number: code, Message: "x"})
		if got := Classify(qe); got != ErrClassRetryable {
			t.Errorf("Classify(errno %d) = %v, want ErrClassRetryable", code, got)
		}
	}
}

func TestClassify_NonRetryableQueryError(t *testing.T) {
	qe := newQueryError(&mysql.MySQLError{Number: 1062, Message: "duplicate"})
	if got := Classify(qe); got != ErrClassQuery {
		t.Errorf("Classify(duplicate) = %v, want ErrClassQuery", got)
	}
}

func TestNewQueryError_ExtractsMySQLErrno(t *testing.T) {
	qe := newQueryError(&mysql.MySQLError{Number: 1062, Message: "duplicate entry"})
	if qe.ServerErrno != 1062 {
		t.Fatalf("expected ServerErrno 1062, got %d", qe.ServerErrno)
	}
	if errors.Unwrap(qe) == nil {
		t.Fatal("expected QueryError to unwrap to its cause")
	}
}

func TestQueryError_ErrorMessageIncludesErrno(t *testing.T) {
	qe := &QueryError{ServerErrno: 1064, Message: "syntax error"}
	if got := qe.Error(); !strings.Contains(got, "1064") {
		t.Fatalf("expected error message to include errno 1064, got %q", got)
	}
}
