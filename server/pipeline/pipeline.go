// Package pipeline serializes the requests of one connection.
//
// Each connection gets one Pipeline: a goroutine draining a bounded FIFO
// queue, so requests are processed and answered in the order they were
// received and the connection's Session is only touched from that
// goroutine.
package pipeline

import (
	"context"
	"sync"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/session"
	"github.com/rs/zerolog"
)

// Result is the outcome of one request.
type Result struct {
	Frame protocol.Frame
	// Reply is false when the request is dropped without an answer.
	Reply bool
	// Close asks the transport to close the connection.
	Close bool
	Err   error
}

// Handler processes one request frame for a session.
type Handler func(ctx context.Context, sess *session.Session, frame protocol.Frame) Result

type job struct {
	ctx    context.Context
	frame  protocol.Frame
	result chan Result
}

// Pipeline is the processing goroutine of one connection.
type Pipeline struct {
	sess   *session.Session
	handle Handler
	queue  chan *job
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// New starts a pipeline for sess with a queue of depth requests.
func New(sess *session.Session, handle Handler, depth int, logger zerolog.Logger) *Pipeline {
	if depth < 1 {
		depth = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		sess:   sess,
		handle: handle,
		queue:  make(chan *job, depth),
		logger: logger.With().Str("component", "pipeline").Str("connection_id", sess.ID).Logger(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Session returns the session the pipeline owns.
func (p *Pipeline) Session() *session.Session {
	return p.sess
}

// Submit queues a frame. It blocks while the queue is full.
func (p *Pipeline) Submit(ctx context.Context, frame protocol.Frame) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || p.ctx.Err() != nil {
		return nil, errors.New(ErrClosed, "pipeline closed", nil).AddContext("connection_id", p.sess.ID)
	}

	j := &job{ctx: ctx, frame: frame, result: make(chan Result, 1)}
	select {
	case p.queue <- j:
		p.sess.Touch()
		return j.result, nil
	case <-ctx.Done():
		return nil, errors.New(ErrCanceled, "submit canceled", ctx.Err())
	case <-p.ctx.Done():
		return nil, errors.New(ErrClosed, "pipeline closed", nil).AddContext("connection_id", p.sess.ID)
	}
}

// Do submits a frame and waits for its result.
func (p *Pipeline) Do(ctx context.Context, frame protocol.Frame) (Result, error) {
	ch, err := p.Submit(ctx, frame)
	if err != nil {
		return Result{}, err
	}
	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return Result{}, errors.New(ErrCanceled, "request canceled", ctx.Err())
	case <-p.done:
		select {
		case res := <-ch:
			return res, nil
		default:
			return Result{}, errors.New(ErrClosed, "pipeline closed", nil).AddContext("connection_id", p.sess.ID)
		}
	}
}

func (p *Pipeline) run() {
	defer close(p.done)

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-p.sess.Done():
			p.cancel()
			return
		case j := <-p.queue:
			if p.ctx.Err() != nil || p.sess.Closed() {
				j.result <- Result{Err: errors.New(ErrClosed, "connection closed before request was handled", nil)}
				continue
			}
			j.result <- p.process(j)
		}
	}
}

func (p *Pipeline) process(j *job) Result {
	if err := j.ctx.Err(); err != nil {
		return Result{Err: errors.New(ErrCanceled, "request canceled before processing", err)}
	}

	p.sess.Begin()
	// the handler outlives a closed connection; it completes or times out
	res := p.handle(context.WithoutCancel(j.ctx), p.sess, j.frame)
	p.sess.End(res.Err != nil)

	if p.sess.Closed() {
		p.logger.Debug().Msg("Discarding response for closed connection")
		return Result{Err: errors.New(ErrClosed, "connection closed while handling request", nil)}
	}
	return res
}

// Close stops the pipeline. Queued requests are answered with ErrClosed;
// a request already being handled runs to completion. Close waits for the
// processing goroutine to exit.
func (p *Pipeline) Close() {
	p.once.Do(func() {
		p.cancel()

		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		<-p.done
		for {
			select {
			case j := <-p.queue:
				j.result <- Result{Err: errors.New(ErrClosed, "connection closed before request was handled", nil)}
			default:
				return
			}
		}
	})
}

// Done is closed when the processing goroutine exits.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

// Pending returns the number of queued requests.
func (p *Pipeline) Pending() int {
	return len(p.queue)
}
