package session

import (
	"context"
	"log/slog"
	"time"

	"github.com/jmylchreest/playcore/internal/models"
	"github.com/jmylchreest/playcore/internal/repository"
)

// journalWriteTimeout bounds one database write.
const journalWriteTimeout = 10 * time.Second

type journalOp struct {
	events  []*models.SessionEvent
	session *models.PlaybackSession
}

// journal persists session rows and events from its own goroutine so the
// session loop never waits on the database.
type journal struct {
	sessions repository.SessionRepository
	events   repository.EventRepository
	logger   *slog.Logger

	queue chan journalOp
	done  chan struct{}
}

func newJournal(sessions repository.SessionRepository, events repository.EventRepository, queueSize int, logger *slog.Logger) *journal {
	if queueSize <= 0 {
		queueSize = 256
	}
	j := &journal{
		sessions: sessions,
		events:   events,
		logger:   logger,
		queue:    make(chan journalOp, queueSize),
		done:     make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *journal) run() {
	defer close(j.done)
	for op := range j.queue {
		ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
		if len(op.events) > 0 && j.events != nil {
			if err := j.events.CreateBatch(ctx, op.events); err != nil {
				j.logger.Warn("failed to journal session events",
					slog.Int("count", len(op.events)),
					slog.String("error", err.Error()))
			}
		}
		if op.session != nil && j.sessions != nil {
			if err := j.sessions.Update(ctx, op.session); err != nil {
				j.logger.Warn("failed to update session record",
					slog.String("error", err.Error()))
			}
		}
		cancel()
	}
}

// submit queues op, dropping it when the queue is full. The final write
// goes through close instead.
func (j *journal) submit(op journalOp) {
	select {
	case j.queue <- op:
	default:
		j.logger.Warn("journal queue full, dropping write", slog.Int("events", len(op.events)))
	}
}

// close queues op, waiting for room, then drains the queue.
func (j *journal) close(op journalOp) {
	if len(op.events) > 0 || op.session != nil {
		j.queue <- op
	}
	close(j.queue)
	<-j.done
}
