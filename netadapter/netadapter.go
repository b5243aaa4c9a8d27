package netadapter

import (
	"net"
	"sync"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/logs"
	"github.com/pkg/errors"
)

// RouterInitializer builds the Router for a freshly (dis)connected
// peer, wiring up whichever flows protocol wants to run over it.
type RouterInitializer func(conn *Connection) (*Router, error)

// NetAdapter is the transport-level connection registry: it accepts
// and dials connections, builds a Router for each via
// RouterInitializer, and pumps messages between the wire and the
// Router's routes. Grounded on the teacher's netadapter.NetAdapter,
// adapted from its grpc transport to the TCP Server/Connection above.
type NetAdapter struct {
	server            *Server
	routerInitializer RouterInitializer

	mu      sync.Mutex
	routers map[net.Addr]*Router
}

// New builds a NetAdapter over its own Server for params' network,
// encoding messages with codec.
func New(params *chaincfg.Params, codec Codec) *NetAdapter {
	na := &NetAdapter{
		server:  NewServer(params, codec),
		routers: make(map[net.Addr]*Router),
	}
	na.server.SetOnConnectedHandler(na.onConnected)
	return na
}

// SetRouterInitializer sets the function used to build a Router for
// each new connection. Must be called before Listen/Dial.
func (na *NetAdapter) SetRouterInitializer(init RouterInitializer) {
	na.routerInitializer = init
}

// Listen starts accepting inbound connections on addr.
func (na *NetAdapter) Listen(addr string) error {
	return na.server.Listen(addr)
}

// Dial opens an outbound connection to addr, running it through the
// same router-initialization and pump loops as inbound connections.
func (na *NetAdapter) Dial(addr string) error {
	_, err := na.server.Dial(addr)
	return err
}

// Stop stops accepting new connections.
func (na *NetAdapter) Stop() error {
	return na.server.Stop()
}

func (na *NetAdapter) onConnected(conn *Connection) error {
	if na.routerInitializer == nil {
		return errors.New("netadapter: no router initializer set")
	}
	router, err := na.routerInitializer(conn)
	if err != nil {
		return err
	}

	conn.SetOnDisconnectedHandler(func() {
		na.mu.Lock()
		delete(na.routers, conn.RemoteAddr())
		na.mu.Unlock()
		router.Close()
	})

	na.mu.Lock()
	na.routers[conn.RemoteAddr()] = router
	na.mu.Unlock()

	go na.receiveLoop(conn, router)
	go na.sendLoop(conn, router)
	return nil
}

func (na *NetAdapter) receiveLoop(conn *Connection, router *Router) {
	defer logs.RecoverPanic(log)
	for {
		msg, err := conn.Receive()
		if err != nil {
			log.Debugf("receive from %s failed: %s", conn.RemoteAddr(), err)
			break
		}
		if err := router.RouteInputMessage(msg); err != nil {
			log.Debugf("routing message from %s failed: %s", conn.RemoteAddr(), err)
		}
	}
	conn.Disconnect()
}

func (na *NetAdapter) sendLoop(conn *Connection, router *Router) {
	defer logs.RecoverPanic(log)
	for {
		msg, err := router.OutgoingRoute().Dequeue()
		if err != nil {
			break
		}
		if err := conn.Send(msg); err != nil {
			log.Debugf("send to %s failed: %s", conn.RemoteAddr(), err)
			break
		}
	}
	conn.Disconnect()
}

// Broadcast enqueues msg on every currently-registered connection's
// outgoing route.
func (na *NetAdapter) Broadcast(msg Message) {
	na.mu.Lock()
	defer na.mu.Unlock()
	for _, router := range na.routers {
		_ = router.OutgoingRoute().Enqueue(msg)
	}
}

// ConnectionCount returns the number of currently registered routers.
func (na *NetAdapter) ConnectionCount() int {
	na.mu.Lock()
	defer na.mu.Unlock()
	return len(na.routers)
}
