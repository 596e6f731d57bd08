package dispatch

import (
	"context"
	"sort"

	"github.com/gear6io/oxygen/pkg/errors"
	"github.com/gear6io/oxygen/server/config"
	"github.com/gear6io/oxygen/server/protocol"
	"github.com/gear6io/oxygen/server/protocol/kbin"
	"github.com/gear6io/oxygen/server/registry"
	"github.com/gear6io/oxygen/server/session"
	"github.com/gear6io/oxygen/server/store"
	"github.com/rs/zerolog"
)

// Request is what a handler sees of one call.
type Request struct {
	Envelope *protocol.Envelope
	Session  *session.Session
	Model    registry.Model
	// Service is the single child of the call root.
	Service *kbin.Node
	Machine Machine
	// Paseli is the e-money setting for this cabinet, after arcade
	// overrides.
	Paseli config.PaseliConfig
	Store  store.Store
	Logger zerolog.Logger
}

// Name returns the service name, e.g. "cardmng".
func (r *Request) Name() string {
	return r.Service.Name
}

// Method returns the method attribute of the service.
func (r *Request) Method() string {
	return r.Service.Attr("method")
}

// PCBID returns the srcid of the call.
func (r *Request) PCBID() string {
	return r.Envelope.SourceID()
}

// Handler answers calls. It returns the reply to the service node, or an
// ErrNotHandled error to let the fallback handler try.
type Handler interface {
	Handle(ctx context.Context, req *Request) (*kbin.Node, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) (*kbin.Node, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Request) (*kbin.Node, error) {
	return f(ctx, req)
}

// Router routes by service and method. A route for "service.method" is
// tried first, then one for the whole service.
type Router struct {
	name   string
	routes map[string]Handler
}

// NewRouter creates an empty router. name shows up in registry listings.
func NewRouter(name string) *Router {
	return &Router{name: name, routes: make(map[string]Handler)}
}

func routeKey(service, method string) string {
	if method == "" {
		return service
	}
	return service + "." + method
}

// Route registers h for service and method. An empty method routes every
// method of the service.
func (r *Router) Route(service, method string, h Handler) *Router {
	r.routes[routeKey(service, method)] = h
	return r
}

// RouteFunc registers a function.
func (r *Router) RouteFunc(service, method string, f func(ctx context.Context, req *Request) (*kbin.Node, error)) *Router {
	return r.Route(service, method, HandlerFunc(f))
}

// Include copies the routes of other that r does not define itself.
func (r *Router) Include(other *Router) *Router {
	for key, h := range other.routes {
		if _, ok := r.routes[key]; !ok {
			r.routes[key] = h
		}
	}
	return r
}

func (r *Router) Handle(ctx context.Context, req *Request) (*kbin.Node, error) {
	service, method := req.Name(), req.Method()

	for _, key := range []string{routeKey(service, method), service} {
		h, ok := r.routes[key]
		if !ok {
			continue
		}
		body, err := h.Handle(ctx, req)
		if errors.HasCode(err, ErrNotHandled) || (err == nil && body == nil) {
			continue
		}
		return body, err
	}
	return nil, NotHandled(service, method)
}

func (r *Router) Name() string {
	return r.name
}

// Routes lists the registered route keys.
func (r *Router) Routes() []string {
	keys := make([]string, 0, len(r.routes))
	for k := range r.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
