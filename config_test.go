package asiomysql

import (
	"testing"

	mysql "github.com/go-sql-driver/mysql"
)

func TestConnectionInfo_DSNRoundTripsThroughDriver(t *testing.T) {
	info := ConnectionInfo{
		User:     "root",
		Password: "pa%zz@ss:word/!",
		Host:     "127.0.0.1",
		Port:     3306,
		Database: "dbname/withslash",
		Params:   map[string]string{"parseTime": "true"},
	}
	dsn := info.DSN()

	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		t.Fatalf("mysql.ParseDSN error: %v, dsn=%q", err, dsn)
	}
	if mc.User != info.User {
		t.Fatalf("user mismatch: got %q want %q", mc.User, info.User)
	}
	if mc.Passwd != info.Password {
		t.Fatalf("password mismatch: got %q want %q", mc.Passwd, info.Password)
	}
	if mc.Net != "tcp" || mc.Addr != "127.0.0.1:3306" {
		t.Fatalf("addr mismatch: net=%q addr=%q", mc.Net, mc.Addr)
	}
	if !mc.ParseTime {
		t.Fatal("expected parseTime to be true")
	}
}

func TestConnectionInfo_DefaultPort(t *testing.T) {
	info := ConnectionInfo{Host: "db.internal"}
	if got := info.addr(); got != "db.internal:3306" {
		t.Fatalf("expected default port 3306, got %q", got)
	}
}

func TestPoolConfig_Normalized(t *testing.T) {
	cfg := PoolConfig{MinSize: -5, MaxSize: 0, ReactorQueueDepth: -1}
	norm := cfg.normalized()
	if norm.MinSize != 0 {
		t.Fatalf("expected MinSize clamped to 0, got %d", norm.MinSize)
	}
	if norm.MaxSize != 1 {
		t.Fatalf("expected MaxSize clamped to 1, got %d", norm.MaxSize)
	}
	if norm.ReactorQueueDepth != 0 {
		t.Fatalf("expected ReactorQueueDepth clamped to 0, got %d", norm.ReactorQueueDepth)
	}
}

func TestPoolConfig_NormalizedMaxNeverBelowMin(t *testing.T) {
	cfg := PoolConfig{MinSize: 10, MaxSize: 3}
	norm := cfg.normalized()
	if norm.MaxSize != 10 {
		t.Fatalf("expected MaxSize raised to MinSize (10), got %d", norm.MaxSize)
	}
}
