package asiomysql

import (
	"database/sql/driver"
	"fmt"
	"strconv"
	"strings"
)

// ResultSet is an immutable, fully materialized snapshot of one MySQL
// result set. It is built eagerly from a driver.Rows the moment a
// statement's response header says a result set (rather than an OK
// packet) came back, so callers never hold a live cursor or block a
// reactor goroutine while scanning.
type ResultSet struct {
	columns     []string
	fieldIndex  map[string]int
	rows        [][]driver.Value
	lengths     [][]int
	affectedRows uint64
	insertID    uint64
	warnings    uint16
}

// newResultSet materializes every row out of rows before returning,
// mirroring mysql_result.hpp's constructor: the whole point of the
// type is that it owns its data independent of the connection that
// produced it.
func newResultSet(columns []string, raw [][]driver.Value) *ResultSet {
	rs := &ResultSet{
		columns:    columns,
		fieldIndex: make(map[string]int, len(columns)),
		rows:       raw,
		lengths:    make([][]int, len(raw)),
	}
	for i, name := range columns {
		rs.fieldIndex[strings.ToLower(name)] = i
	}
	for i, row := range raw {
		lens := make([]int, len(row))
		for j, v := range row {
			lens[j] = fieldByteLen(v)
		}
		rs.lengths[i] = lens
	}
	return rs
}

func fieldByteLen(v driver.Value) int {
	switch vv := v.(type) {
	case nil:
		return 0
	case []byte:
		return len(vv)
	case string:
		return len(vv)
	default:
		return len(fmt.Sprint(vv))
	}
}

// NumRows reports how many rows this result set holds.
func (rs *ResultSet) NumRows() int { return len(rs.rows) }

// NumFields reports the column count.
func (rs *ResultSet) NumFields() int { return len(rs.columns) }

// FieldNames returns the column names in result order.
func (rs *ResultSet) FieldNames() []string {
	out := make([]string, len(rs.columns))
	copy(out, rs.columns)
	return out
}

// AffectedRows is only meaningful for ResultSets produced by a
// non-row-returning statement (INSERT/UPDATE/DELETE); zero otherwise.
func (rs *ResultSet) AffectedRows() uint64 { return rs.affectedRows }

// InsertID is the auto-increment id assigned by the last INSERT, if any.
func (rs *ResultSet) InsertID() uint64 { return rs.insertID }

// Warnings is the warning count reported on the statement's OK packet.
func (rs *ResultSet) Warnings() uint16 { return rs.warnings }

// Row returns the raw values for row index i. It panics on an
// out-of-range index, same as mysql_result.hpp's bounds-checked
// accessor family — callers are expected to check NumRows first.
func (rs *ResultSet) Row(i int) []driver.Value {
	rs.checkRowBounds(i)
	return rs.rows[i]
}

// Lengths returns the raw byte length of every field in row i.
func (rs *ResultSet) Lengths(i int) []int {
	rs.checkRowBounds(i)
	return rs.lengths[i]
}

// Value returns field `field` of row `row` by column name, matched
// case-insensitively. ok is false if the column does not exist.
func (rs *ResultSet) Value(row int, field string) (driver.Value, bool) {
	idx, ok := rs.fieldIndex[strings.ToLower(field)]
	if !ok {
		return nil, false
	}
	rs.checkRowBounds(row)
	return rs.rows[row][idx], true
}

// String is a convenience accessor over Value that stringifies
// whatever driver.Value came back (MySQL text-protocol values are
// already []byte/string for almost every type).
func (rs *ResultSet) String(row int, field string) (string, bool) {
	v, ok := rs.Value(row, field)
	if !ok || v == nil {
		return "", ok
	}
	switch vv := v.(type) {
	case []byte:
		return string(vv), true
	case string:
		return vv, true
	default:
		return fmt.Sprint(vv), true
	}
}

// Int64 is a convenience accessor that parses the field as an integer.
func (rs *ResultSet) Int64(row int, field string) (int64, bool) {
	s, ok := rs.String(row, field)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

func (rs *ResultSet) checkRowBounds(i int) {
	if i < 0 || i >= len(rs.rows) {
		panic(fmt.Sprintf("asiomysql: row index %d out of range [0,%d)", i, len(rs.rows)))
	}
}
