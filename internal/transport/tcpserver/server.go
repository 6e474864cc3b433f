// Package tcpserver is the connection-oriented transport adapter: one
// goroutine per accepted connection, newline-framed JSON messages, disconnect
// cleanup with host re-election delegated to the hosted coordinator.
package tcpserver

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"quiznet/internal/domain"
	"quiznet/internal/game"
	"quiznet/internal/protocol"
)

type client struct {
	conn net.Conn
	mu   sync.Mutex // serializes writes from handler and timeline goroutines
}

// Server accepts connections indefinitely and feeds decoded messages to a
// HostedSession. Attach must be called before ListenAndServe.
type Server struct {
	addr    string
	session *game.HostedSession

	ln net.Listener

	mu     sync.Mutex
	conns  map[game.PlayerID]*client
	nextID int
}

func New(addr string) *Server {
	return &Server{
		addr:  addr,
		conns: make(map[game.PlayerID]*client),
	}
}

// Attach wires the coordinator in and installs the eviction hook that closes
// connections the coordinator drops after failed writes.
func (s *Server) Attach(session *game.HostedSession) {
	s.session = session
	session.OnEvict(s.closeClient)
}

// Listen binds the listener. ListenAndServe calls it if it has not run yet;
// tests call it first to learn the chosen port.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen tcp %s: %w", s.addr, err)
	}
	s.ln = ln
	return nil
}

// Addr reports the bound address; only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.ln.Addr()
}

// ListenAndServe blocks accepting connections until the context is canceled.
// A bind failure is fatal; per-connection failures never are.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	log.Printf("tcp quiz server listening on %s", s.ln.Addr())

	go func() {
		<-ctx.Done()
		s.ln.Close()
		s.shutdown()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.handleConn(conn)
	}
}

// Send implements game.Sender. The coordinator treats a returned error as a
// dead client during broadcasts.
func (s *Server) Send(id game.PlayerID, msg protocol.Message) error {
	s.mu.Lock()
	c, ok := s.conns[id]
	s.mu.Unlock()
	if !ok {
		return domain.ErrUnknownClient
	}
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err = c.conn.Write(append(payload, '\n'))
	return err
}

// handleConn runs one connection's receive loop. The stream is buffered so
// messages split or coalesced across reads come out one per newline; a decode
// failure is answered with an error message without dropping the connection,
// while a read failure ends participation entirely.
func (s *Server) handleConn(conn net.Conn) {
	id, seat := s.addConn(conn)
	log.Printf("new connection from %s as %s", conn.RemoteAddr(), id)
	s.session.Connect(id)
	defer func() {
		s.closeClient(id)
		s.session.Disconnect(id)
		log.Printf("connection %s closed", id)
	}()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		in, err := protocol.Decode(line)
		if err != nil {
			s.reply(id, protocol.ErrorData{Message: "Invalid JSON"})
			continue
		}
		if !s.dispatch(id, seat, in) {
			return
		}
	}
}

// dispatch routes one inbound message; it returns false when the client asked
// to leave.
func (s *Server) dispatch(id game.PlayerID, seat int, in protocol.Inbound) bool {
	switch in.Type {
	case protocol.TypeRegister:
		var data protocol.RegisterData
		if err := in.Payload(&data); err != nil {
			s.reply(id, protocol.ErrorData{Message: "Invalid register payload"})
			return true
		}
		name := data.Name
		if name == "" {
			name = fmt.Sprintf("Player_%d", seat)
		}
		s.session.Register(id, name)
	case protocol.TypeAnswer:
		var data protocol.AnswerData
		if err := in.Payload(&data); err != nil {
			s.reply(id, protocol.ErrorData{Message: "Invalid answer payload"})
			return true
		}
		s.session.SubmitAnswer(id, data.Answer)
	case protocol.TypeStartGame:
		s.session.Start(id)
	case protocol.TypeGetStatus:
		s.session.Status(id)
	case protocol.TypeDisconnected:
		return false
	default:
		s.reply(id, protocol.ErrorData{Message: "Unknown message type"})
	}
	return true
}

func (s *Server) reply(id game.PlayerID, data protocol.ErrorData) {
	msg := protocol.Message{
		Type:      protocol.TypeError,
		Data:      data,
		Timestamp: protocol.Timestamp(time.Now()),
	}
	if err := s.Send(id, msg); err != nil {
		log.Printf("error reply to %s: %v", id, err)
	}
}

func (s *Server) addConn(conn net.Conn) (game.PlayerID, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seat := s.nextID
	s.nextID++
	id := game.PlayerID(fmt.Sprintf("conn-%d", seat))
	s.conns[id] = &client{conn: conn}
	return id, seat
}

func (s *Server) closeClient(id game.PlayerID) {
	s.mu.Lock()
	c, ok := s.conns[id]
	delete(s.conns, id)
	s.mu.Unlock()
	if ok {
		c.conn.Close()
	}
}

// shutdown tells everyone goodbye and closes every connection.
func (s *Server) shutdown() {
	s.session.Broadcast(protocol.TypeDisconnected, protocol.ErrorData{Message: "Server shutting down"})
	s.session.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		c.conn.Close()
		delete(s.conns, id)
	}
}
