package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

// TxFunc is executed within a Firestore transaction. It may run more than once
// when the transaction is retried after contention.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises a single transaction run.
type TxOption func(*txSettings)

type txSettings struct {
	op       string
	attempts int
	timeout  time.Duration
	readOnly bool
}

func defaultTxSettings() txSettings {
	return txSettings{op: "transaction", attempts: 5, timeout: 15 * time.Second}
}

func (s txSettings) firestoreOptions() []firestore.TransactionOption {
	opts := []firestore.TransactionOption{firestore.MaxAttempts(s.attempts)}
	if s.readOnly {
		opts = append(opts, firestore.ReadOnly)
	}
	return opts
}

// WithTxOp names the transaction in wrapped errors, e.g. "contracts.mutate".
func WithTxOp(op string) TxOption {
	return func(s *txSettings) {
		if op != "" {
			s.op = op
		}
	}
}

// WithTxAttempts caps how many times Firestore retries on contention.
func WithTxAttempts(attempts int) TxOption {
	return func(s *txSettings) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole run including retries.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(s *txSettings) {
		if timeout > 0 {
			s.timeout = timeout
		}
	}
}

// WithReadOnlyTx runs a snapshot read; any write inside fn fails.
func WithReadOnlyTx() TxOption {
	return func(s *txSettings) { s.readOnly = true }
}

// RunTransaction executes fn within a transaction on client. A caller deadline
// shorter than the configured timeout is kept.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	settings := defaultTxSettings()
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	switch {
	case client == nil:
		return WrapError(settings.op, errors.New("firestore: client is nil"))
	case fn == nil:
		return WrapError(settings.op, errors.New("firestore: transaction function is nil"))
	}

	deadline := time.Now().Add(settings.timeout)
	if current, ok := ctx.Deadline(); ok && current.Before(deadline) {
		deadline = current
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	return WrapError(settings.op, client.RunTransaction(ctx, fn, settings.firestoreOptions()...))
}

// RunTransaction executes fn inside a transaction on the provider's shared client.
func (p *Provider) RunTransaction(ctx context.Context, fn TxFunc, opts ...TxOption) error {
	client, err := p.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, fn, opts...)
}
