package atome

import (
	"context"
	"log"
	"sync"

	"atome-store/internal/domain"
	apierrors "atome-store/internal/errors"
	"atome-store/internal/store"
)

// PendingQueue holds mutations that could not reach the secondary. It is
// process-scoped: a restart loses it, and the next full sync reconciles
// instead. The queue is bounded; when full the oldest entry is dropped so
// a long outage cannot grow memory without bound.
type PendingQueue struct {
	mu    sync.Mutex
	ops   []domain.PendingOperation
	limit int
}

func NewPendingQueue(limit int) *PendingQueue {
	if limit <= 0 {
		limit = 256
	}
	return &PendingQueue{limit: limit}
}

// Enqueue appends op, deduplicating on (atome, kind) so a retried
// operation never queues twice.
func (q *PendingQueue) Enqueue(op domain.PendingOperation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i := range q.ops {
		if q.ops[i].AtomeID == op.AtomeID && q.ops[i].Kind == op.Kind {
			return
		}
	}
	if len(q.ops) >= q.limit {
		q.ops = q.ops[1:]
	}
	q.ops = append(q.ops, op)
}

// Len reports the number of queued operations.
func (q *PendingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Drain replays every queued operation against the backend, reading the
// current state from source where the replay needs it. Operations whose
// subject no longer exists count as done; anything else that fails goes
// back on the queue for the next drain. Draining twice is harmless.
func (q *PendingQueue) Drain(ctx context.Context, source store.Ledger, backend store.Adapter) {
	q.mu.Lock()
	ops := q.ops
	q.ops = nil
	q.mu.Unlock()

	for _, op := range ops {
		if err := q.replay(ctx, source, backend, op); err != nil {
			if apierrors.Is(err, apierrors.CodeNotFound) {
				continue
			}
			log.Printf("[PENDING] replay of %s %s failed, requeued: %v", op.Kind, op.AtomeID, err)
			q.Enqueue(op)
		}
	}
}

func (q *PendingQueue) replay(ctx context.Context, source store.Ledger, backend store.Adapter, op domain.PendingOperation) error {
	switch op.Kind {
	case domain.OpDelete:
		return backend.SoftDelete(ctx, op.AtomeID)

	case domain.OpCreate:
		atome, err := source.Get(ctx, op.AtomeID, false)
		if err != nil {
			// Deleted locally before the mirror came back; nothing to push.
			if apierrors.Is(err, apierrors.CodeNotFound) {
				return nil
			}
			return err
		}
		err = backend.Create(ctx, atome)
		if apierrors.Is(err, apierrors.CodeAlreadyExists) {
			return nil
		}
		return err

	case domain.OpAlter:
		atome, err := source.Get(ctx, op.AtomeID, false)
		if err != nil {
			if apierrors.Is(err, apierrors.CodeNotFound) {
				return nil
			}
			return err
		}
		// Push the full current particle set; shallow merge makes the
		// replay idempotent.
		_, err = backend.Update(ctx, op.AtomeID, atome.Particles, op.OwnerID)
		if apierrors.Is(err, apierrors.CodeNotFound) {
			return nil
		}
		return err

	default:
		log.Printf("[PENDING] dropping unsupported queued op %s for %s", op.Kind, op.AtomeID)
		return nil
	}
}
