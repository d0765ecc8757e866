package async

import (
	"context"
	"sync"
)

// Ticket resolves when its job reaches a terminal state
type Ticket struct {
	id   string
	done chan struct{}
	once sync.Once
	job  *ImportJob
}

func newTicket(id string) *Ticket {
	return &Ticket{id: id, done: make(chan struct{})}
}

// ID is the job ID
func (t *Ticket) ID() string { return t.id }

// Done is closed once the job is terminal
func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the job is terminal or ctx ends
func (t *Ticket) Wait(ctx context.Context) (*ImportJob, error) {
	select {
	case <-t.done:
		return t.job, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Ticket) resolve(job *ImportJob) {
	t.once.Do(func() {
		t.job = job
		close(t.done)
	})
}
