package asiomysql

import (
	"context"

	"github.com/cenkalti/backoff/v4"
)

// newConnectBackOff builds the backoff.BackOff used to retry a brand
// new Connection's initial connect() only — never a statement, never a
// mid-transaction reconnect. Shaped after
// veresnikov-rp-golib/pkg/infrastructure/amqp/conn.go's newBackOff:
// exponential backoff with a bounded MaxElapsedTime, further bounded
// by a maximum attempt count via backoff.WithMaxRetries.
func newConnectBackOff(policy RetryPolicy) backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = policy.InitialInterval
	eb.Multiplier = policy.Multiplier
	eb.MaxElapsedTime = policy.MaxElapsedTime

	var b backoff.BackOff = eb
	if policy.MaxRetries > 0 {
		b = backoff.WithMaxRetries(b, uint64(policy.MaxRetries))
	}
	return b
}

// connectWithRetry runs connect (a single blocking real_connect
// attempt) under the pool's RetryPolicy. It never retries a failure
// that happens after the connection reached ConnStatusOk — by
// construction connect either fully succeeds or backoff.Retry tries
// again from scratch with a fresh attempt.
func connectWithRetry(ctx context.Context, policy RetryPolicy, connect func() error) error {
	b := backoff.WithContext(newConnectBackOff(policy), ctx)
	return backoff.Retry(connect, b)
}
