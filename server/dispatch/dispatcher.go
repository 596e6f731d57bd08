// Package dispatch turns request frames into response frames: it decodes
// the packet, routes the call to the handler registered for the cabinet's
// model, and encodes the reply.
//
// Every request walks Received → Decompressing → Parsing → Routing →
// Handling → Encoding → Compressing → Sent. A failure in any step moves it
// to Errored, and the cabinet still gets a minimal error envelope in the
// framing of its request.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/pipeline"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/gear6io/oxygen/server/session"
	"github.com/gear6io/oxygen/server/store"
	"github.com/rs/zerolog"
)

// Roots of SOAP and XML-RPC requests that reach the backend port.
var rejectedRoots = map[string]bool{
	"soapenv:Envelope": true,
	"soap:Envelope":    true,
	"methodCall":       true,
}

// Options tune the dispatcher.
type Options struct {
	HandlerTimeout    time.Duration
	CompressResponses bool
	Paseli            config.PaseliConfig
}

// OptionsFromConfig extracts dispatcher options from the server config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		HandlerTimeout:    cfg.Dispatch.HandlerTimeout,
		CompressResponses: cfg.Dispatch.CompressResponses,
		Paseli:            cfg.Paseli,
	}
}

// Dispatcher routes decoded calls to title handlers.
type Dispatcher struct {
	registry *registry.Registry[Handler]
	store    store.Store
	opts     Options
	logger   zerolog.Logger

	mu    sync.Mutex
	stats Stats
}

// Stats counts dispatch outcomes.
type Stats struct {
	Requests int64            `json:"requests"`
	Sent     int64            `json:"sent"`
	Dropped  int64            `json:"dropped"`
	Errored  map[string]int64 `json:"errored"`
}

// New creates a dispatcher.
func New(reg *registry.Registry[Handler], st store.Store, opts Options, logger zerolog.Logger) *Dispatcher {
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 10 * time.Second
	}
	return &Dispatcher{
		registry: reg,
		store:    st,
		opts:     opts,
		logger:   logger.With().Str("component", "dispatch").Logger(),
		stats:    Stats{Errored: make(map[string]int64)},
	}
}

// Registry returns the handler registry.
func (d *Dispatcher) Registry() *registry.Registry[Handler] {
	return d.registry
}

// trace follows one request through its states.
type trace struct {
	state  State
	logger zerolog.Logger
	start  time.Time
}

func (t *trace) step() {
	t.state = t.state.next()
	t.logger.Trace().Str("state", t.state.String()).Msg("Request state")
}

// Dispatch processes one request frame. It matches pipeline.Handler.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *session.Session, frame protocol.Frame) pipeline.Result {
	d.count(func(s *Stats) { s.Requests++ })

	t := &trace{
		state: StateReceived,
		start: time.Now(),
		logger: d.logger.With().
			Str("connection_id", sess.ID).
			Str("remote", sess.Remote).
			Logger(),
	}

	// framing of the request, for the fallback reply when decoding fails
	fallback := &protocol.Envelope{Options: protocol.Options{
		Document:    kbin.DefaultOptions(),
		Compression: protocol.CompressionNone,
		Info:        frame.Info,
	}}
	if _, err := protocol.ParseInfo(frame.Info); err != nil {
		fallback.Options.Info = ""
	}

	t.step() // decompressing
	plain, err := protocol.Decrypt(frame)
	if err != nil {
		return d.fail(ctx, t, fallback, err)
	}
	payload, err := protocol.Decompress(frame, plain)
	if err != nil {
		return d.fail(ctx, t, fallback, err)
	}

	t.step() // parsing
	env, err := protocol.ParseEnvelope(frame, payload)
	if err != nil {
		return d.fail(ctx, t, fallback, err)
	}
	t.logger = t.logger.With().Str("correlation_id", env.CorrelationID).Logger()

	if rejectedRoots[env.Root.Name] {
		t.state = StateErrored
		d.count(func(s *Stats) { s.Dropped++ })
		t.logger.Warn().Str("root", env.Root.Name).Msg("Rejected SOAP request")
		return pipeline.Result{Err: errors.New(ErrRejectedRequest, "not an arcade request", nil).AddContext("root", env.Root.Name)}
	}

	if seq, ok := env.Sequence(); ok {
		t.logger = t.logger.With().Uint16("seq", seq).Logger()
		if err := sess.Advance(seq); err != nil {
			t.state = StateErrored
			d.count(func(s *Stats) { s.Dropped++ })
			t.logger.Warn().Err(err).Msg("Dropping request with stale sequence number")
			return pipeline.Result{Err: err}
		}
	}

	t.step() // routing
	req, handler, err := d.route(ctx, sess, env)
	if err != nil {
		return d.fail(ctx, t, env, err)
	}
	t.logger = t.logger.With().
		Str("model", req.Model.String()).
		Str("service", req.Name()).
		Str("method", req.Method()).
		Logger()
	req.Logger = t.logger
	t.logger.Debug().Str("request", env.Root.String()).Msg("Received request")

	t.step() // handling
	body, err := d.handle(ctx, handler, req)
	if err != nil {
		return d.fail(ctx, t, env, err)
	}

	t.step() // encoding
	resp := protocol.NewResponse(env, body, d.opts.CompressResponses)
	payload, err = protocol.Serialize(resp)
	if err != nil {
		return d.fail(ctx, t, env, err)
	}

	t.step() // compressing
	out, err := protocol.Pack(resp.Options, payload)
	if err != nil {
		return d.fail(ctx, t, env, err)
	}

	t.step() // sent
	d.count(func(s *Stats) { s.Sent++ })
	t.logger.Debug().
		Str("response", resp.Root.String()).
		Dur("elapsed", time.Since(t.start)).
		Msg("Sending response")
	return pipeline.Result{Frame: out, Reply: true}
}

func (d *Dispatcher) route(ctx context.Context, sess *session.Session, env *protocol.Envelope) (*Request, Handler, error) {
	root := env.Root
	if root.Name != protocol.RootCall {
		return nil, nil, unroutable("root is not a call").AddContext("root", root.Name)
	}
	if len(root.Children) != 1 {
		return nil, nil, unroutable("call must have exactly one service").AddContext("services", strconv.Itoa(len(root.Children)))
	}
	modelString, ok := root.LookupAttr("model")
	if !ok {
		return nil, nil, unroutable("call has no model")
	}
	model, err := registry.ParseModel(modelString)
	if err != nil {
		return nil, nil, errors.New(ErrUnroutableRequest, "call has an invalid model", err).AddContext("model", modelString)
	}
	pcbid := env.SourceID()
	if pcbid == "" {
		return nil, nil, unroutable("call has no srcid").AddContext("model", modelString)
	}

	handler, err := d.registry.ResolveModel(model)
	if err != nil {
		if !errors.HasCode(err, registry.ErrNotFound) {
			return nil, nil, err
		}
		fallback, ok := d.registry.Fallback()
		if !ok {
			return nil, nil, errors.New(ErrUnroutableRequest, "no handler for model", err).AddContext("model", modelString)
		}
		handler = fallback
	}

	machine, paseli, err := resolveMachine(ctx, d.store, pcbid, model.Game, model.Version, d.opts.Paseli)
	if err != nil {
		return nil, nil, err
	}
	sess.Identify(modelString, model.Version, pcbid)

	req := &Request{
		Envelope: env,
		Session:  sess,
		Model:    model,
		Service:  root.Children[0],
		Machine:  machine,
		Paseli:   paseli,
		Store:    d.store,
	}
	return req, handler, nil
}

// handle runs the title handler, then the fallback handler when the title
// does not serve the call.
func (d *Dispatcher) handle(ctx context.Context, h Handler, req *Request) (*kbin.Node, error) {
	body, err := d.invoke(ctx, h, req)
	if errors.HasCode(err, ErrNotHandled) {
		if fallback, ok := d.registry.Fallback(); ok && !sameHandler(fallback, h) {
			body, err = d.invoke(ctx, fallback, req)
		}
	}
	if err == nil && body == nil {
		err = NotHandled(req.Name(), req.Method())
	}
	return body, err
}

func sameHandler(a, b Handler) (same bool) {
	defer func() {
		// handlers of uncomparable types are never the same
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

type outcome struct {
	body *kbin.Node
	err  error
}

// invoke calls h under the handler timeout. Panics and errors other than
// ErrNotHandled become HandlerFailure errors.
func (d *Dispatcher) invoke(ctx context.Context, h Handler, req *Request) (*kbin.Node, error) {
	ctx, cancel := context.WithTimeout(ctx, d.opts.HandlerTimeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errors.New(ErrHandlerFailure, "handler panicked", nil).
					AddContext("panic", fmt.Sprint(r)).
					AddContext("stack", string(debug.Stack()))}
			}
		}()
		body, err := h.Handle(ctx, req)
		done <- outcome{body: body, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil && !errors.HasCode(o.err, ErrNotHandled) && !errors.HasCode(o.err, ErrHandlerFailure) {
			return nil, errors.New(ErrHandlerFailure, "handler failed", o.err)
		}
		return o.body, o.err
	case <-ctx.Done():
		return nil, errors.New(ErrHandlerFailure, "handler timed out", ctx.Err()).
			AddContext("timeout", d.opts.HandlerTimeout.String())
	}
}

// fail moves the request to Errored and builds the error reply. Only a
// failure to encode that reply closes the connection.
func (d *Dispatcher) fail(ctx context.Context, t *trace, req *protocol.Envelope, cause error) pipeline.Result {
	failedIn := t.state
	t.state = StateErrored

	kind := errors.GetCode(cause)
	if kind == "" {
		kind = errors.CommonInternal.String()
	}
	d.count(func(s *Stats) { s.Errored[kind]++ })

	log := t.logger.With().Str("state", failedIn.String()).Str("kind", kind).Logger()
	if errors.HasCode(cause, ErrNotHandled) {
		log.Warn().Err(cause).Msg("Unhandled request")
	} else {
		log.Error().Err(cause).EmbedObject(errors.AsError(cause)).Msg("Request failed")
	}
	d.recordFailure(ctx, failedIn, req, cause)

	resp := protocol.NewErrorResponse(req, Status(StatusNotAllowed))
	frame, err := protocol.Encode(resp)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode error response, closing connection")
		return pipeline.Result{
			Err:   errors.New(ErrEncodeFailed, "failed to encode error response", err).AddContext("cause", cause.Error()),
			Close: true,
		}
	}
	return pipeline.Result{Frame: frame, Reply: true, Err: cause}
}

// recordFailure writes unhandled calls and handler failures as events.
func (d *Dispatcher) recordFailure(ctx context.Context, state State, req *protocol.Envelope, cause error) {
	var eventType string
	data := map[string]interface{}{}
	if req != nil && req.Root != nil {
		data["model"] = req.Model()
		data["pcbid"] = req.SourceID()
		if svc := req.Service(); svc != nil {
			data["service"] = svc.Name
			data["method"] = svc.Attr("method")
		}
	}

	switch {
	case errors.HasCode(cause, ErrNotHandled):
		eventType = EventUnhandledPacket
		if req != nil && req.Root != nil {
			data["request"] = req.Root.String()
		}
	case errors.HasCode(cause, ErrHandlerFailure):
		eventType = EventException
		data["error"] = cause.Error()
		if oxErr := errors.Find(cause, ErrHandlerFailure); oxErr != nil {
			if stack, ok := oxErr.Context["stack"]; ok {
				data["traceback"] = stack
			}
		}
	default:
		return
	}
	data["state"] = state.String()

	// the request context may already be past its deadline
	evCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := PutEvent(evCtx, d.store, eventType, data); err != nil {
		d.logger.Warn().Err(err).Str("event", eventType).Msg("Failed to record event")
	}
}

func (d *Dispatcher) count(f func(*Stats)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f(&d.stats)
}

// Stats returns a copy of the dispatch counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := d.stats
	out.Errored = make(map[string]int64, len(d.stats.Errored))
	for k, v := range d.stats.Errored {
		out.Errored[k] = v
	}
	return out
}
