// Package udpserver is the connectionless transport adapter: one receive
// loop, one complete message per datagram, and the loss-mitigation extras the
// unreliable transport needs. Every outbound envelope carries a process-wide
// strictly increasing sequence number so clients can detect gaps, questions
// are rebroadcast by the coordinator during the answer window, and an idle
// heartbeat proves liveness while anyone is registered. Registry entries are
// never purged here: a silent client is simply never addressed again.
package udpserver

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"quiznet/internal/domain"
	"quiznet/internal/game"
	"quiznet/internal/protocol"
)

// Server reads datagrams and feeds decoded messages to a Session. Attach
// must be called before ListenAndServe.
type Server struct {
	addr      string
	heartbeat time.Duration
	session   *game.Session

	conn     *net.UDPConn
	seq      atomic.Uint64
	lastSent atomic.Int64 // unix nanos of the most recent outbound datagram

	mu    sync.Mutex
	peers map[game.PlayerID]*net.UDPAddr
}

func New(addr string, heartbeat time.Duration) *Server {
	return &Server{
		addr:      addr,
		heartbeat: heartbeat,
		peers:     make(map[game.PlayerID]*net.UDPAddr),
	}
}

func (s *Server) Attach(session *game.Session) {
	s.session = session
}

// Listen binds the socket. ListenAndServe calls it if it has not run yet;
// tests call it first to learn the chosen port.
func (s *Server) Listen() error {
	laddr, err := net.ResolveUDPAddr("udp", s.addr)
	if err != nil {
		return fmt.Errorf("resolve udp %s: %w", s.addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", s.addr, err)
	}
	s.conn = conn
	return nil
}

// Addr reports the bound address; only valid after Listen.
func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// ListenAndServe blocks reading datagrams until the context is canceled. A
// bind failure is fatal; everything after that is per-datagram.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.conn == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	conn := s.conn
	log.Printf("udp quiz server listening on %s", conn.LocalAddr())

	go func() {
		<-ctx.Done()
		s.session.Close()
		conn.Close()
	}()
	if s.heartbeat > 0 {
		go s.heartbeatLoop(ctx)
	}

	buf := make([]byte, 4096)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read udp: %w", err)
		}
		id := game.PlayerID(raddr.String())
		s.remember(id, raddr)

		in, err := protocol.Decode(buf[:n])
		if err != nil {
			s.reply(id, "Invalid JSON")
			continue
		}
		s.dispatch(id, raddr, in)
	}
}

// Send implements game.Sender, stamping the envelope with the next sequence
// number. Send errors never evict a client on this transport.
func (s *Server) Send(id game.PlayerID, msg protocol.Message) error {
	s.mu.Lock()
	raddr, ok := s.peers[id]
	s.mu.Unlock()
	if !ok {
		return domain.ErrUnknownClient
	}
	msg.Seq = s.seq.Add(1)
	payload, err := msg.Encode()
	if err != nil {
		return err
	}
	if _, err := s.conn.WriteToUDP(payload, raddr); err != nil {
		return err
	}
	s.lastSent.Store(time.Now().UnixNano())
	return nil
}

// dispatch routes one datagram. Unknown sources may register or query status;
// their answer and start messages are ignored outright since no reply address
// has earned a seat yet.
func (s *Server) dispatch(id game.PlayerID, raddr *net.UDPAddr, in protocol.Inbound) {
	switch in.Type {
	case protocol.TypeRegister:
		var data protocol.RegisterData
		if err := in.Payload(&data); err != nil {
			s.reply(id, "Invalid register payload")
			return
		}
		name := data.Name
		if name == "" {
			name = fmt.Sprintf("Player_%d", raddr.Port)
		}
		s.session.Register(id, name)
	case protocol.TypeAnswer:
		if !s.session.Registered(id) {
			return
		}
		var data protocol.AnswerData
		if err := in.Payload(&data); err != nil {
			s.reply(id, "Invalid answer payload")
			return
		}
		s.session.SubmitAnswer(id, data.Answer)
	case protocol.TypeStartGame:
		if !s.session.Registered(id) {
			return
		}
		s.session.Start(id)
	case protocol.TypeGetStatus:
		s.session.Status(id)
	case protocol.TypeDisconnected:
		// No connection to tear down; the entry stays, matching the
		// transport's no-purge contract.
	default:
		s.reply(id, "Unknown message type")
	}
}

// heartbeatLoop broadcasts a low-rate liveness note whenever at least one
// client is registered and nothing else has gone out recently.
func (s *Server) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.session.PlayerCount() == 0 {
				continue
			}
			idle := time.Since(time.Unix(0, s.lastSent.Load()))
			if idle < s.heartbeat {
				continue
			}
			s.session.Broadcast(protocol.TypeHeartbeat, protocol.HeartbeatData{Note: "server heartbeat"})
		}
	}
}

func (s *Server) reply(id game.PlayerID, message string) {
	msg := protocol.Message{
		Type:      protocol.TypeError,
		Data:      protocol.ErrorData{Message: message},
		Timestamp: protocol.Timestamp(time.Now()),
	}
	if err := s.Send(id, msg); err != nil {
		log.Printf("error reply to %s: %v", id, err)
	}
}

func (s *Server) remember(id game.PlayerID, raddr *net.UDPAddr) {
	s.mu.Lock()
	s.peers[id] = raddr
	s.mu.Unlock()
}
