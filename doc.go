// Package asiomysql is a non-blocking MySQL client built around a
// single-threaded reactor, in the spirit of the asio-based C++ client
// it was ported from.
//
// # Overview
//
// A Pool owns a bounded population of Connections. Every Connection
// drives one MySQL session through a small state machine (connect,
// set character set, execute, store result) whose blocking protocol
// round trips run on dedicated goroutines spawned off a Reactor; the
// state machine itself is only ever mutated from that Reactor's own
// goroutine. Callers never block: Pool.Execute, Connection.Execute
// and Transaction.Execute all take result/error callbacks and return
// immediately.
//
// # Quick Start
//
//	info := asiomysql.ConnectionInfo{
//		User: "app", Password: "secret", Host: "127.0.0.1", Port: 3306,
//		Database: "orders",
//	}
//	pool := asiomysql.NewPool(info, 2, 10)
//	if err := pool.Init(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer pool.CloseAll()
//
//	pool.Execute("SELECT id FROM orders WHERE status = 'open'",
//		func(rs *asiomysql.ResultSet) {
//			for i := 0; i < rs.NumRows(); i++ {
//				id, _ := rs.Int64(i, "id")
//				log.Println(id)
//			}
//		},
//		func(err error) { log.Printf("query failed: %v", err) },
//	)
//
// # Transactions
//
// NewTransactionAsync hands back a Transaction bound exclusively to
// one Connection; statements submitted to it are serialized and any
// failure triggers an automatic ROLLBACK. Close issues COMMIT unless
// the transaction already finished:
//
//	pool.NewTransactionAsync(func(tx *asiomysql.Transaction, err error) {
//		if err != nil {
//			return
//		}
//		tx.SetCommitCallback(func(committed bool) {
//			log.Println("committed:", committed)
//		})
//		tx.Execute("UPDATE accounts SET balance = balance - 100 WHERE id = 1",
//			nil, func(err error) { log.Print(err) })
//		tx.Close()
//	})
//
// NewTransaction offers a blocking convenience wrapper around the same
// mechanism for callers that would rather not write a callback.
//
// # Observability
//
// Logging (log/slog), tracing (OpenTelemetry) and metrics
// (OpenTelemetry) are each individually toggleable via
// Pool.EnableLogging/EnableTelemetry/EnableMetrics and configured
// through PoolConfig.
package asiomysql
