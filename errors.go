package asiomysql

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
)

// Callers match with errors.Is against the sentinels (ErrConnectFailed,
// ErrConnectionLost, ErrTransactionFinished, ErrPoolOverloaded,
// ErrPoolClosed) and type-assert *QueryError for the query-failure
// case, which carries the server's errno/message.
var (
	// ErrConnectFailed is returned when the connect phase (real_connect
	// or set_character_set) fails before conn_status ever reaches Ok.
	ErrConnectFailed = errors.New("asiomysql: connect failed")

	// ErrConnectionLost is fired via closed_cb/error_cb when a
	// previously-Ok connection's protocol handle reports an error mid
	// statement. The Connection transitions to Bad and is retired by
	// the Pool; no automatic reconnection is attempted (non-goal).
	ErrConnectionLost = errors.New("asiomysql: connection lost")

	// ErrTransactionFinished is returned by Transaction.Execute once the
	// transaction's COMMIT or ROLLBACK has already run.
	ErrTransactionFinished = errors.New("asiomysql: transaction already finished")

	// ErrPoolOverloaded is returned by Pool.Execute / Pool.NewTransaction
	// when the pending queue already holds more than maxSQLBuffer entries.
	ErrPoolOverloaded = errors.New("asiomysql: pool overloaded")

	// ErrPoolClosed is returned for any request submitted to, or still
	// pending on, a Pool after CloseAll has run.
	ErrPoolClosed = errors.New("asiomysql: pool closed")
)

// QueryError wraps a server-reported statement failure
// (server_errno, message).
type QueryError struct {
	ServerErrno uint16
	Message     string
	cause       error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("asiomysql: query failed (errno %d): %s", e.ServerErrno, e.Message)
}

func (e *QueryError) Unwrap() error { return e.cause }

// newQueryError builds a QueryError from whatever the protocol layer
// returned, pulling out the server errno/message from a
// *mysql.MySQLError when the underlying driver supplies one.
func newQueryError(err error) *QueryError {
	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		return &QueryError{ServerErrno: mysqlErr.Number, Message: mysqlErr.Message, cause: err}
	}
	return &QueryError{Message: err.Error(), cause: err}
}

// ErrorClass buckets a failure for metrics/logging attribution
// without callers needing to know the MySQL errno table by heart.
type ErrorClass int

const (
	ErrClassUnknown ErrorClass = iota
	ErrClassConnect
	ErrClassConnectionLost
	ErrClassQuery
	ErrClassRetryable
	ErrClassPoolOverloaded
	ErrClassPoolClosed
	ErrClassTransactionFinished
)

func (c ErrorClass) String() string {
	switch c {
	case ErrClassConnect:
		return "connect"
	case ErrClassConnectionLost:
		return "connection_lost"
	case ErrClassQuery:
		return "query"
	case ErrClassRetryable:
		return "retryable"
	case ErrClassPoolOverloaded:
		return "pool_overloaded"
	case ErrClassPoolClosed:
		return "pool_closed"
	case ErrClassTransactionFinished:
		return "transaction_finished"
	default:
		return "unknown"
	}
}

// retryableErrnos lists the MySQL server errno values worth retrying:
// lock wait timeout (1205), deadlock found (1213), and the replica lag
// guard TiDB raises for stale reads (1290,
// ER_OPTION_PREVENTS_STATEMENT). Classify reports these as
// ErrClassRetryable on top of ErrClassQuery so callers can decide to
// resubmit a fresh statement (never an automatic library behavior).
var retryableErrnos = map[uint16]bool{
	1205: true,
	1213: true,
	1290: true,
}

// Classify inspects err and reports which of the library's failure
// categories it belongs to.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrClassUnknown
	case errors.Is(err, ErrConnectFailed):
		return ErrClassConnect
	case errors.Is(err, ErrConnectionLost):
		return ErrClassConnectionLost
	case errors.Is(err, ErrTransactionFinished):
		return ErrClassTransactionFinished
	case errors.Is(err, ErrPoolOverloaded):
		return ErrClassPoolOverloaded
	case errors.Is(err, ErrPoolClosed):
		return ErrClassPoolClosed
	}

	var qe *QueryError
	if errors.As(err, &qe) {
		if retryableErrnos[qe.ServerErrno] {
			return ErrClassRetryable
		}
		return ErrClassQuery
	}

	var mysqlErr *mysql.MySQLError
	if errors.As(err, &mysqlErr) {
		if retryableErrnos[mysqlErr.Number] {
			return ErrClassRetryable
		}
		return ErrClassQuery
	}
	return ErrClassUnknown
}
