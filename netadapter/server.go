package netadapter

import (
	"net"
	"sync"

	"github.com/emberchain/emberd/chaincfg"
	"github.com/emberchain/emberd/logs"
	"github.com/pkg/errors"
)

var log = logs.Logger("NETA")

// OnConnectedHandler is invoked for every new inbound or outbound
// connection.
type OnConnectedHandler func(conn *Connection) error

// Server listens for inbound TCP connections and dials outbound ones,
// wrapping each in emberd's wire framing. Grounded on the teacher's
// netadapter/server (Server interface over grpcserver), collapsed to
// a single concrete TCP implementation since grpc/protobuf are
// dropped per DESIGN.md.
type Server struct {
	params *chaincfg.Params
	codec  Codec

	mu       sync.Mutex
	listener net.Listener
	stopped  bool

	onConnected OnConnectedHandler
}

// NewServer builds a Server bound to no listener yet; call Listen to
// start accepting inbound connections.
func NewServer(params *chaincfg.Params, codec Codec) *Server {
	return &Server{params: params, codec: codec}
}

// SetOnConnectedHandler registers the callback invoked for every
// connection, inbound or outbound.
func (s *Server) SetOnConnectedHandler(handler OnConnectedHandler) {
	s.onConnected = handler
}

// Listen starts accepting inbound connections on addr in a background
// goroutine.
func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go s.acceptLoop(listener)
	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			log.Warnf("accept error: %s", err)
			continue
		}
		s.handleNewConnection(conn)
	}
}

// Dial opens an outbound connection to addr.
func (s *Server) Dial(addr string) (*Connection, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	return s.handleNewConnection(conn), nil
}

func (s *Server) handleNewConnection(conn net.Conn) *Connection {
	wrapped := NewConnection(conn, s.codec, s.params)
	if s.onConnected != nil {
		if err := s.onConnected(wrapped); err != nil {
			log.Warnf("connection handler for %s failed: %s", wrapped.RemoteAddr(), err)
			wrapped.Disconnect()
			return wrapped
		}
	}
	return wrapped
}

// Stop closes the listener. Already-open connections are left to
// their own Disconnect calls.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	if s.listener == nil {
		return nil
	}
	return s.listener.Close()
}
