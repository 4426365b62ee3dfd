package services

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mpreston/gatekeeper/internal/models"
)

// QueueService is the bounded FIFO of login attempts awaiting release.
// Enqueue never blocks: at capacity it fails immediately so the caller can
// reject with a specific reason. Draining happens only from the periodic
// scheduler, which decouples producer latency from consumer pacing.
//
// One mutex guards the enqueue/drain pair. The hot path of an attempt is
// dominated by the checks before it reaches the queue, not by this lock.
type QueueService struct {
	mu       sync.Mutex
	entries  []*models.PendingConnection
	capacity int
	seq      atomic.Uint64
	logger   *slog.Logger
}

// NewQueueService creates a queue holding at most capacity connections.
func NewQueueService(capacity int, logger *slog.Logger) *QueueService {
	return &QueueService{
		entries:  make([]*models.PendingConnection, 0, capacity),
		capacity: capacity,
		logger:   logger,
	}
}

// Enqueue appends an attempt to the queue. Returns models.ErrQueueFull when
// the queue is at capacity. Each returned PendingConnection carries a
// sequence id unique for the process lifetime.
func (q *QueueService) Enqueue(attempt models.Attempt) (*models.PendingConnection, error) {
	pending := &models.PendingConnection{
		Seq:        q.seq.Add(1),
		Name:       attempt.Name,
		ProfileID:  attempt.ProfileID,
		Event:      attempt.Event,
		EnqueuedAt: time.Now(),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.capacity {
		return nil, models.ErrQueueFull
	}

	q.entries = append(q.entries, pending)
	return pending, nil
}

// Drain removes and returns up to max connections in FIFO order. Entries
// whose transport reports the connection already closed are discarded
// without being returned and do not count toward max.
func (q *QueueService) Drain(max int) []*models.PendingConnection {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	released := make([]*models.PendingConnection, 0, max)
	kept := 0
	for _, pending := range q.entries {
		if len(released) >= max {
			q.entries[kept] = pending
			kept++
			continue
		}
		if pending.Event.Closed() {
			q.logger.Debug("dropping closed connection from queue",
				slog.Uint64("seq", pending.Seq),
				slog.String("name", pending.Name))
			continue
		}
		released = append(released, pending)
	}

	// Clear released slots so the backing array does not pin events
	for i := kept; i < len(q.entries); i++ {
		q.entries[i] = nil
	}
	q.entries = q.entries[:kept]

	return released
}

// Depth returns the number of queued connections.
func (q *QueueService) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}
