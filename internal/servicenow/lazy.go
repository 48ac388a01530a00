// ABOUTME: Lazily created, process-wide ServiceNow connection handle.
// ABOUTME: Creation failures are returned to the caller and retried next time.

package servicenow

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Lazy creates a Client on first use and reuses it afterwards.
type Lazy struct {
	mu     sync.Mutex
	client *Client
	group  singleflight.Group
	create func(ctx context.Context) (*Client, error)
	logger *slog.Logger
}

// NewLazy returns a handle that will build a Client from cfg when first
// asked for one.
func NewLazy(cfg Config, logger *slog.Logger) *Lazy {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lazy{
		create: func(ctx context.Context) (*Client, error) {
			return NewClient(ctx, cfg, logger)
		},
		logger: logger,
	}
}

// Client returns the shared client, creating it if needed. Concurrent
// callers share one creation attempt and each stops waiting when its own
// ctx is done.
func (l *Lazy) Client(ctx context.Context) (*Client, error) {
	if c := l.current(); c != nil {
		return c, nil
	}

	ch := l.group.DoChan("client", func() (any, error) {
		if c := l.current(); c != nil {
			return c, nil
		}
		// the login outlives whichever caller started it
		c, err := l.create(context.WithoutCancel(ctx))
		if err != nil {
			l.logger.Warn("servicenow connection failed", "error", err)
			return nil, err
		}
		l.logger.Info("servicenow connection created",
			"instance_url", c.InstanceURL(),
			"auth_mode", c.AuthMode(),
		)
		l.mu.Lock()
		l.client = c
		l.mu.Unlock()
		return c, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Client), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Lazy) current() *Client {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.client
}

// Ready creates the client if needed and probes the instance.
func (l *Lazy) Ready(ctx context.Context) error {
	c, err := l.Client(ctx)
	if err != nil {
		return err
	}
	_, err = c.TestConnection(ctx)
	return err
}
