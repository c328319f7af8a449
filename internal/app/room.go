package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"quiz-coordinator/internal/domain"
)

const roomEventBuffer = 64

// Room is a live room. All state changes run on its worker goroutine in arrival order.
type Room struct {
	id     string
	code   string
	quizID string

	events   chan func()
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	hub   *hub
	state *roomState

	status       atomic.Value
	lastActivity atomic.Int64

	onComplete func(domain.RoomResult)
	log        logrus.FieldLogger
}

func newRoom(state *roomState, onComplete func(domain.RoomResult), log logrus.FieldLogger) *Room {
	r := &Room{
		id:         state.id,
		code:       state.code,
		quizID:     state.quiz.ID,
		events:     make(chan func(), roomEventBuffer),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
		hub:        newHub(),
		state:      state,
		onComplete: onComplete,
		log:        log.WithFields(logrus.Fields{"room_id": state.id, "room_code": state.code}),
	}
	state.post = r.post
	r.status.Store(state.status)
	r.lastActivity.Store(state.now().UnixNano())
	return r
}

func (r *Room) ID() string     { return r.id }
func (r *Room) Code() string   { return r.code }
func (r *Room) QuizID() string { return r.quizID }

// Status is a lock-free mirror of the worker's status, refreshed after every event.
func (r *Room) Status() domain.RoomStatus {
	return r.status.Load().(domain.RoomStatus)
}

// LastActivity is when the worker last processed an event.
func (r *Room) LastActivity() time.Time {
	return time.Unix(0, r.lastActivity.Load())
}

// Done is closed when the worker has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) run() {
	go r.loop()
}

func (r *Room) loop() {
	defer close(r.done)
	for {
		select {
		case ev := <-r.events:
			ev()
		case <-r.quit:
			r.state.stopTimers()
			r.hub.close()
			return
		}
	}
}

// flush publishes queued events and refreshes the lock-free mirrors.
func (r *Room) flush() {
	for _, env := range r.state.drain() {
		r.hub.publish(env)
	}
	r.status.Store(r.state.status)
	r.lastActivity.Store(r.state.now().UnixNano())
	if res := r.state.result; res != nil {
		r.state.result = nil
		if r.onComplete != nil {
			r.onComplete(*res)
		}
	}
}

func (r *Room) stop() {
	r.stopOnce.Do(func() { close(r.quit) })
}

// post queues fn from a timer goroutine. It is dropped if the room has stopped.
func (r *Room) post(fn func(*roomState)) {
	ev := func() {
		_ = r.protect(func() error {
			fn(r.state)
			return nil
		})
		r.flush()
	}
	select {
	case r.events <- ev:
	case <-r.quit:
	}
}

func (r *Room) protect(fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.WithField("panic", p).Error("room worker recovered from panic")
			err = fmt.Errorf("room %s: internal error", r.id)
		}
	}()
	return fn()
}

// call runs fn on the room worker and waits for its result.
func call[T any](ctx context.Context, r *Room, fn func(*roomState) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	var zero T
	reply := make(chan result, 1)
	ev := func() {
		if r.state.closed {
			reply <- result{err: domain.ErrRoomClosed}
			return
		}
		var v T
		err := r.protect(func() error {
			var err error
			v, err = fn(r.state)
			return err
		})
		// Publish before replying so callers observe their own events.
		r.flush()
		reply <- result{v: v, err: err}
	}

	select {
	case r.events <- ev:
	case <-r.quit:
		return zero, domain.ErrRoomClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.v, res.err
	case <-r.done:
		return zero, domain.ErrRoomClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
