package fetch

import (
	"context"
	"sort"
	"sync"
)

// Task is one unit of prioritized work.
type Task struct {
	priority int
	seq      uint64
	run      func(ctx context.Context)
	ctx      context.Context
	cancel   context.CancelFunc
	started  bool
	finished bool
}

// Prioritizer runs at most maxConcurrent tasks at a time and always starts
// the most urgent waiting task first (lowest priority value, then FIFO).
type Prioritizer struct {
	maxConcurrent int

	mu      sync.Mutex
	seq     uint64
	running int
	waiting []*Task
}

// NewPrioritizer creates a prioritizer. maxConcurrent <= 0 means unlimited.
func NewPrioritizer(maxConcurrent int) *Prioritizer {
	return &Prioritizer{maxConcurrent: maxConcurrent}
}

// Submit queues run with the given priority.
func (p *Prioritizer) Submit(ctx context.Context, priority int, run func(ctx context.Context)) *Task {
	tctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.seq++
	t := &Task{priority: priority, seq: p.seq, run: run, ctx: tctx, cancel: cancel}
	p.waiting = append(p.waiting, t)
	p.mu.Unlock()

	p.dispatch()
	return t
}

// Update changes the priority of a task that has not started yet.
func (p *Prioritizer) Update(t *Task, priority int) {
	p.mu.Lock()
	t.priority = priority
	p.mu.Unlock()
	p.dispatch()
}

// Cancel cancels a task, removing it from the waiting list if needed.
func (p *Prioritizer) Cancel(t *Task) {
	p.mu.Lock()
	for i, w := range p.waiting {
		if w == t {
			p.waiting = append(p.waiting[:i], p.waiting[i+1:]...)
			break
		}
	}
	p.mu.Unlock()
	t.cancel()
}

// Stats returns the number of running and waiting tasks.
func (p *Prioritizer) Stats() (running, waiting int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, len(p.waiting)
}

func (p *Prioritizer) dispatch() {
	for {
		p.mu.Lock()
		if len(p.waiting) == 0 || (p.maxConcurrent > 0 && p.running >= p.maxConcurrent) {
			p.mu.Unlock()
			return
		}
		sort.SliceStable(p.waiting, func(i, j int) bool {
			if p.waiting[i].priority != p.waiting[j].priority {
				return p.waiting[i].priority < p.waiting[j].priority
			}
			return p.waiting[i].seq < p.waiting[j].seq
		})
		t := p.waiting[0]
		p.waiting = p.waiting[1:]
		t.started = true
		p.running++
		p.mu.Unlock()

		go func() {
			defer p.finish(t)
			t.run(t.ctx)
		}()
	}
}

func (p *Prioritizer) finish(t *Task) {
	p.mu.Lock()
	t.finished = true
	p.running--
	p.mu.Unlock()
	t.cancel()
	p.dispatch()
}
