package netadapter

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

const defaultRouteCapacity = 100

// ErrRouteClosed indicates a route was closed while reading/writing,
// grounded on the teacher's router.Route.
var ErrRouteClosed = errors.New("route is closed")

// ErrTimeout signifies a Route dequeue timed out.
var ErrTimeout = errors.New("timeout expired")

// Route is a buffered, typed channel of inbound or outbound messages,
// grounded on the teacher's netadapter/router/route.go.
type Route struct {
	channel chan Message

	mu     sync.Mutex
	closed bool
}

// NewRoute builds a Route with the default capacity.
func NewRoute() *Route {
	return &Route{channel: make(chan Message, defaultRouteCapacity)}
}

// Enqueue pushes msg onto the route. It returns ErrRouteClosed if the
// route has already been closed.
func (r *Route) Enqueue(msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return errors.WithStack(ErrRouteClosed)
	}
	select {
	case r.channel <- msg:
		return nil
	default:
		return errors.New("route is at capacity")
	}
}

// Dequeue blocks until a message is available or the route closes.
func (r *Route) Dequeue() (Message, error) {
	msg, open := <-r.channel
	if !open {
		return nil, errors.WithStack(ErrRouteClosed)
	}
	return msg, nil
}

// DequeueWithTimeout is Dequeue bounded by timeout.
func (r *Route) DequeueWithTimeout(timeout time.Duration) (Message, error) {
	select {
	case <-time.After(timeout):
		return nil, errors.Wrapf(ErrTimeout, "no message within %s", timeout)
	case msg, open := <-r.channel:
		if !open {
			return nil, errors.WithStack(ErrRouteClosed)
		}
		return msg, nil
	}
}

// Close closes the route; further Enqueue calls fail and pending
// Dequeue calls unblock with ErrRouteClosed.
func (r *Route) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	close(r.channel)
}

// Router demultiplexes a connection's inbound messages by command into
// per-type Routes, and fans every outbound message through a single
// shared outgoing Route. Grounded on the teacher's netadapter.Router
// (internalized; the upstream file was never separately retrieved,
// so this is rebuilt from the Route primitive plus netadapter.go's
// documented RouteInputMessage/TakeOutputMessage usage).
type Router struct {
	mu             sync.Mutex
	incomingRoutes map[MessageCommand]*Route
	outgoingRoute  *Route
}

// NewRouter builds an empty Router.
func NewRouter() *Router {
	return &Router{
		incomingRoutes: make(map[MessageCommand]*Route),
		outgoingRoute:  NewRoute(),
	}
}

// AddIncomingRoute registers a Route that receives every inbound
// message whose command is in commands. A command may only be routed
// to one Route at a time.
func (r *Router) AddIncomingRoute(commands []MessageCommand) (*Route, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	route := NewRoute()
	for _, cmd := range commands {
		if _, exists := r.incomingRoutes[cmd]; exists {
			return nil, errors.Errorf("command %s already has a route", cmd)
		}
		r.incomingRoutes[cmd] = route
	}
	return route, nil
}

// RemoveRoute unregisters commands, closing their shared Route.
func (r *Router) RemoveRoute(commands []MessageCommand) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var route *Route
	for _, cmd := range commands {
		if existing, ok := r.incomingRoutes[cmd]; ok {
			route = existing
		}
		delete(r.incomingRoutes, cmd)
	}
	if route != nil {
		route.Close()
	}
	return nil
}

// OutgoingRoute returns the single Route every outbound message for
// this connection is enqueued onto.
func (r *Router) OutgoingRoute() *Route {
	return r.outgoingRoute
}

// RouteInputMessage dispatches an inbound message to whichever Route
// was registered for its command, dropping it (with an error) if no
// flow currently wants that command.
func (r *Router) RouteInputMessage(msg Message) error {
	r.mu.Lock()
	route, ok := r.incomingRoutes[msg.Command()]
	r.mu.Unlock()
	if !ok {
		return errors.Errorf("no route registered for command %s", msg.Command())
	}
	return route.Enqueue(msg)
}

// Close closes every incoming route and the outgoing route.
func (r *Router) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[*Route]bool)
	for _, route := range r.incomingRoutes {
		if !seen[route] {
			route.Close()
			seen[route] = true
		}
	}
	r.outgoingRoute.Close()
}
