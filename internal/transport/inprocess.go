package transport

import (
	"context"
	"sync"

	"github.com/devrev/pairdb/gmu-node/internal/errors"
	"github.com/devrev/pairdb/gmu-node/internal/util/workerpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// InProcessTransport connects nodes hosted in the same process. Deliveries
// for ResponseModeWaitForValid run on an optional worker pool so a slow
// target does not hold the caller; when the pool is saturated the delivery
// runs on its own goroutine.
type InProcessTransport struct {
	pool   *workerpool.WorkerPool
	logger *zap.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewInProcessTransport creates a transport. pool may be nil.
func NewInProcessTransport(pool *workerpool.WorkerPool, logger *zap.Logger) *InProcessTransport {
	return &InProcessTransport{
		pool:     pool,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// Register attaches the handler of a node
func (t *InProcessTransport) Register(node string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[node] = h
}

// Unregister detaches a node; later sends to it fail
func (t *InProcessTransport) Unregister(node string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, node)
}

// Send implements Transport
func (t *InProcessTransport) Send(ctx context.Context, targets []string, cmd Command, opts Options) (map[string]Response, error) {
	if len(targets) == 0 {
		return nil, errors.InvalidArgument("no targets to send to", nil)
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	if opts.Mode == ResponseModeWaitForAll {
		return t.sendToAll(ctx, targets, cmd)
	}
	return t.sendUntilValid(ctx, targets, cmd, opts.Filter)
}

func (t *InProcessTransport) sendToAll(ctx context.Context, targets []string, cmd Command) (map[string]Response, error) {
	responses := make(map[string]Response, len(targets))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			resp := t.deliver(gctx, target, cmd)
			mu.Lock()
			responses[target] = resp
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return responses, nil
}

func (t *InProcessTransport) sendUntilValid(ctx context.Context, targets []string, cmd Command, filter ResponseFilter) (map[string]Response, error) {
	results := make(chan Response, len(targets))
	for _, target := range targets {
		target := target
		run := func(c context.Context) error {
			results <- t.deliver(c, target, cmd)
			return nil
		}
		if t.pool == nil || !t.pool.TrySubmit(workerpool.Task{ID: cmd.CommandName() + "->" + target, Fn: run, Context: ctx}) {
			go func() { _ = run(ctx) }()
		}
	}

	responses := make(map[string]Response, len(targets))
	for received := 0; received < len(targets); received++ {
		select {
		case resp := <-results:
			responses[resp.Sender] = resp
			if filter == nil {
				if resp.Status == StatusSuccess {
					return responses, nil
				}
				continue
			}
			if filter.IsAcceptable(resp) || !filter.NeedMoreResponses() {
				return responses, nil
			}
		case <-ctx.Done():
			return responses, errors.TransportFailed("timed out waiting for a valid response", ctx.Err())
		}
	}
	return responses, nil
}

func (t *InProcessTransport) deliver(ctx context.Context, target string, cmd Command) Response {
	t.mu.RLock()
	h, ok := t.handlers[target]
	t.mu.RUnlock()

	if !ok {
		return Response{
			Sender: target,
			Status: StatusException,
			Err:    errors.TransportFailed("node "+target+" is unreachable", nil),
		}
	}

	resp := h.Handle(ctx, cmd)
	resp.Sender = target
	return resp
}
