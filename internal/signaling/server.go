package signaling

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/1ureka/peerlink/internal/util"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// maxFrameSize caps inbound relay frames. Session descriptions with many
// media sections stay well below this.
const maxFrameSize = 64 * 1024

// Server is a broadcast signaling relay: every text frame received from one
// client is written to every connected client, the sender included. Peers
// sharing the relay rely on self-echo suppression to ignore their own frames.
// The server never inspects frame contents.
type Server struct {
	listener net.Listener
	httpSrv  *http.Server
	log      util.Logger

	mu    sync.Mutex
	peers map[*relayPeer]struct{}
}

// relayPeer is one connected client and the lock serializing writes to it.
type relayPeer struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// NewServer creates a relay server. Call Start to begin accepting clients.
func NewServer() *Server {
	return &Server{
		log:   util.NewLogger("relay-server"),
		peers: make(map[*relayPeer]struct{}),
	}
}

// Start begins listening on addr (":0" picks a random port). Returns the
// assigned port number.
func (s *Server) Start(addr string) (int, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("failed to start relay server: %w", err)
	}
	s.listener = listener
	port := listener.Addr().(*net.TCPAddr).Port

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	s.httpSrv = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("relay server stopped: %v", err)
		}
	}()

	return port, nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(maxFrameSize)

	p := &relayPeer{conn: conn}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	n := len(s.peers)
	s.mu.Unlock()
	s.log.Info("client connected from %s (%d online)", r.RemoteAddr, n)

	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		n := len(s.peers)
		s.mu.Unlock()
		conn.Close()
		s.log.Info("client %s disconnected (%d online)", r.RemoteAddr, n)
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		s.broadcast(data)
	}
}

// broadcast writes data to every connected client. A client whose write
// fails is closed; its read loop then removes it.
func (s *Server) broadcast(data []byte) {
	s.mu.Lock()
	targets := make([]*relayPeer, 0, len(s.peers))
	for p := range s.peers {
		targets = append(targets, p)
	}
	s.mu.Unlock()

	for _, p := range targets {
		p.mu.Lock()
		_ = p.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		err := p.conn.WriteMessage(websocket.TextMessage, data)
		p.mu.Unlock()
		if err != nil {
			s.log.Warn("dropping client after write error: %v", err)
			p.conn.Close()
		}
	}
}

// Clients returns the number of currently connected clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// Close stops accepting clients and disconnects everyone connected.
func (s *Server) Close() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.httpSrv.Shutdown(ctx)

	s.mu.Lock()
	for p := range s.peers {
		p.conn.Close()
	}
	s.mu.Unlock()
	return err
}
