package notify

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PGListener turns Postgres notifications on a channel into wake-ups for the
// worker pool. Missed notifications are harmless; workers also poll.
type PGListener struct {
	pool    *pgxpool.Pool
	channel string
	wake    chan struct{}
	retry   time.Duration
}

func NewPGListener(pool *pgxpool.Pool, channel string) *PGListener {
	return &PGListener{
		pool:    pool,
		channel: channel,
		wake:    make(chan struct{}, 1),
		retry:   time.Second,
	}
}

// Wake returns the channel signalled after each notification. Signals are
// coalesced, so a slow reader sees at most one pending wake-up.
func (l *PGListener) Wake() <-chan struct{} {
	return l.wake
}

// Run listens until ctx is cancelled, reconnecting after connection errors.
func (l *PGListener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		zap.L().Warn("settlement job listener disconnected", zap.Error(err), zap.String("channel", l.channel))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retry):
		}
	}
}

func (l *PGListener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return err
	}
	// The pool must not hand this session out again while it is subscribed.
	defer func() {
		_, _ = conn.Exec(context.Background(), "UNLISTEN *")
	}()

	zap.L().Info("listening for settlement jobs", zap.String("channel", l.channel))
	for {
		if _, err := conn.Conn().WaitForNotification(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			return err
		}
		l.signal()
	}
}

func (l *PGListener) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
