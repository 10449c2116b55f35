package actions

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const persistTimeout = 5 * time.Second

type persistOp struct {
	action   PendingAction
	stableID string
	remove   bool
}

// persister writes offline queue changes to a QueueStore off the serial loop.
// Changes are coalesced per stable ID: only the latest one for a key is
// written, so a slow store never blocks the caller and the backlog is bounded
// by the number of queued posts.
type persister struct {
	store  QueueStore
	logger *slog.Logger
	wake   chan struct{}
	done   chan struct{}

	mu      sync.Mutex
	pending map[string]persistOp
	order   []string
	closed  bool
}

func newPersister(store QueueStore, logger *slog.Logger) *persister {
	p := &persister{
		store:   store,
		logger:  logger,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		pending: make(map[string]persistOp),
	}
	go p.run()
	return p
}

func (p *persister) save(action PendingAction) {
	p.send(persistOp{action: action, stableID: action.Post.StableID})
}

func (p *persister) remove(stableID string) {
	p.send(persistOp{stableID: stableID, remove: true})
}

func (p *persister) send(op persistOp) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.logger.Warn("queue persister closed, dropping write", "stable_id", op.stableID)
		return
	}
	if _, ok := p.pending[op.stableID]; !ok {
		p.order = append(p.order, op.stableID)
	}
	p.pending[op.stableID] = op

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// close flushes outstanding writes and stops the writer.
func (p *persister) close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.wake)
	}
	p.mu.Unlock()
	<-p.done
}

func (p *persister) run() {
	defer close(p.done)
	for range p.wake {
		p.flush()
	}
	p.flush()
}

// flush writes every pending change in the order keys were first touched.
func (p *persister) flush() {
	p.mu.Lock()
	ops := make([]persistOp, 0, len(p.order))
	for _, id := range p.order {
		ops = append(ops, p.pending[id])
	}
	p.order = nil
	p.pending = make(map[string]persistOp)
	p.mu.Unlock()

	for _, op := range ops {
		p.write(op)
	}
}

func (p *persister) write(op persistOp) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	var err error
	if op.remove {
		err = p.store.Delete(ctx, op.stableID)
	} else {
		err = p.store.Save(ctx, op.action)
	}
	if err != nil {
		p.logger.Error("failed to persist queued action",
			"stable_id", op.stableID,
			"remove", op.remove,
			"error", err)
	}
}
