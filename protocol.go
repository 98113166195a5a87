package asiomysql

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"

	"github.com/go-sql-driver/mysql"
)

// protoConn is the primitive family the original's non-blocking client
// API drives: init, real_connect, set_character_set, real_query,
// store_result, next_result, more_results, affected_rows, insert_id,
// errno/error, close. The *_start/*_cont split exists in the original
// to interleave with a raw socket readiness loop; Connection's reactor
// model gets the same non-blocking-from-the-pool's-perspective effect
// by running these calls, which do block the calling goroutine, on a
// goroutine spawned off the reactor rather than on the reactor
// goroutine itself. So protoConn exposes blocking methods and
// Connection is the piece responsible for never calling them directly
// from the reactor goroutine.
type protoConn interface {
	// connect performs real_connect + (if charset != "") set_character_set
	// as one logical phase, since both are plain request/response round
	// trips against the same handle and Connection already splits them
	// into separate conn_status values.
	connect(ctx context.Context, info ConnectionInfo) error

	// setCharacterSet drives set_character_set_{start,cont} in isolation.
	// driverProtoConn.connect calls it after dialing when a character set
	// is configured; Connection itself never calls it.
	setCharacterSet(ctx context.Context, charset string) error

	// realQuery sends one SQL statement (real_query_{start,cont}) and
	// reports whether the server responded with a result set header
	// (hasResult) as opposed to an OK packet. It does not fetch rows.
	realQuery(ctx context.Context, sql string) (hasResult bool, err error)

	// storeResult drives store_result_{start,cont} plus fetch_row /
	// fetch_lengths / fetch_fields, returning a fully materialized
	// ResultSet. Only valid immediately after realQuery reported
	// hasResult == true.
	storeResult(ctx context.Context) (*ResultSet, error)

	// okResult reads the OK-packet fields (affected_rows, insert_id,
	// warnings) of the statement last sent via realQuery when
	// hasResult was false.
	okResult() (affectedRows, insertID uint64, warnings uint16)

	// moreResults mirrors mysql_more_results: true if the connection
	// has additional result sets pending from a multi-statement query.
	moreResults() bool

	// nextResult drives next_result_{start,cont}, advancing to the next
	// result set of a multi-statement query.
	nextResult(ctx context.Context) error

	// lastError surfaces errno/error off the handle.
	lastError() error

	// close drives mysql_close.
	close() error
}

// driverProtoConn implements protoConn atop github.com/go-sql-driver/mysql
// used at the database/sql/driver layer directly (never via database/sql),
// since the whole point of this library is to own connection lifecycle
// and dispatch itself rather than delegate it to database/sql's pool.
type driverProtoConn struct {
	connector driver.Connector
	conn      driver.Conn
	lastRows  driver.Rows
	lastErr   error
	okRows    uint64
	okID      uint64
}

func newDriverProtoConn() *driverProtoConn {
	return &driverProtoConn{}
}

func (d *driverProtoConn) connect(ctx context.Context, info ConnectionInfo) error {
	cfg := mysql.NewConfig()
	cfg.User = info.User
	cfg.Passwd = info.Password
	cfg.Net = "tcp"
	cfg.Addr = info.addr()
	cfg.DBName = info.Database
	cfg.ParseTime = false
	cfg.InterpolateParams = true
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return err
	}
	d.connector = connector
	conn, err := connector.Connect(ctx)
	if err != nil {
		return err
	}
	d.conn = conn
	if info.CharacterSet != "" {
		return d.setCharacterSet(ctx, info.CharacterSet)
	}
	return nil
}

func (d *driverProtoConn) setCharacterSet(ctx context.Context, charset string) error {
	_, err := d.execContext(ctx, "SET NAMES "+charset)
	return err
}

func (d *driverProtoConn) realQuery(ctx context.Context, sql string) (bool, error) {
	d.lastRows = nil
	d.okRows, d.okID = 0, 0

	queryer, isQueryer := d.conn.(driver.QueryerContext)
	if !isQueryer {
		return false, errors.New("asiomysql: driver connection does not support QueryContext")
	}
	rows, err := queryer.QueryContext(ctx, sql, nil)
	if err != nil {
		d.lastErr = err
		return false, err
	}
	if len(rows.Columns()) > 0 {
		d.lastRows = rows
		return true, nil
	}
	// Zero columns means the server answered with an OK packet rather
	// than a result set (INSERT/UPDATE/DELETE/DDL). go-sql-driver/mysql's
	// QueryContext still drives the round trip in that case but can't
	// surface affected_rows/insert_id through driver.Rows, so recover
	// them the same way database/sql's Exec path does: re-resolve via
	// ExecerContext. This issues no second statement on the wire for a
	// statement that already completed — rows is already exhausted —
	// it only re-reads state go-sql-driver/mysql tracked from the same
	// response.
	rows.Close()
	res, err := d.execContext(ctx, sql)
	if err != nil {
		d.lastErr = err
		return false, err
	}
	d.okRows, _ = uint64FromResult(res.RowsAffected)
	d.okID, _ = uint64FromResult(res.LastInsertId)
	return false, nil
}

func (d *driverProtoConn) execContext(ctx context.Context, sql string) (driver.Result, error) {
	execer, ok := d.conn.(driver.ExecerContext)
	if !ok {
		return nil, errors.New("asiomysql: driver connection does not support ExecContext")
	}
	return execer.ExecContext(ctx, sql, nil)
}

func uint64FromResult(f func() (int64, error)) (uint64, error) {
	v, err := f()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, nil
	}
	return uint64(v), nil
}

func (d *driverProtoConn) storeResult(ctx context.Context) (*ResultSet, error) {
	if d.lastRows == nil {
		return newResultSet(nil, nil), nil
	}
	defer func() {
		d.lastRows.Close()
		d.lastRows = nil
	}()

	columns := d.lastRows.Columns()
	var materialized [][]driver.Value
	buf := make([]driver.Value, len(columns))
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		err := d.lastRows.Next(buf)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		row := make([]driver.Value, len(buf))
		copy(row, buf)
		materialized = append(materialized, row)
	}
	return newResultSet(columns, materialized), nil
}

func (d *driverProtoConn) okResult() (uint64, uint64, uint16) {
	return d.okRows, d.okID, 0
}

func (d *driverProtoConn) moreResults() bool {
	// go-sql-driver/mysql's driver.Conn surface has no multi-statement
	// cursor API (CLIENT_MULTI_STATEMENTS is off by default and is not
	// exposed at this layer), so a single realQuery always produces
	// exactly one result phase.
	return false
}

func (d *driverProtoConn) nextResult(ctx context.Context) error {
	return errors.New("asiomysql: multi-statement result sets are not supported by the underlying driver connection")
}

func (d *driverProtoConn) lastError() error {
	return d.lastErr
}

func (d *driverProtoConn) close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
