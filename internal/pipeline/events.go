package pipeline

import (
	"sync"

	"github.com/dvloznov/statement-importer/internal/domain"
)

const subscriberBuffer = 16

// Broadcaster fans job snapshots out to in-process subscribers. A slow
// subscriber misses intermediate snapshots instead of blocking the pipeline;
// the status stream also polls the store, so it still converges.
type Broadcaster struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan *domain.ImportJob
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string]map[int]chan *domain.ImportJob)}
}

// Subscribe registers for snapshots of one job. The returned cancel func
// unregisters and closes the channel; it is safe to call more than once.
func (b *Broadcaster) Subscribe(jobID string) (<-chan *domain.ImportJob, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan *domain.ImportJob, subscriberBuffer)
	if b.subs[jobID] == nil {
		b.subs[jobID] = make(map[int]chan *domain.ImportJob)
	}
	b.subs[jobID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs[jobID], id)
			if len(b.subs[jobID]) == 0 {
				delete(b.subs, jobID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// Publish sends a copy of job to every subscriber without blocking.
func (b *Broadcaster) Publish(job *domain.ImportJob) {
	if b == nil || job == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[job.ID] {
		select {
		case ch <- job.Clone():
		default:
		}
	}
}

// Subscribers returns the number of live subscriptions for a job.
func (b *Broadcaster) Subscribers(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[jobID])
}
