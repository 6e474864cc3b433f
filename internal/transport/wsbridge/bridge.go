// Package wsbridge lets browser clients speak the quiz protocol without a
// raw socket: each websocket client gets its own TCP connection to the game
// server, and the bridge relays JSON frames both ways. It holds no game
// state of its own.
package wsbridge

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Bridge upgrades /ws requests and proxies them onto the TCP listener at
// target.
type Bridge struct {
	target   string
	upgrader websocket.Upgrader
}

func New(target string) *Bridge {
	return &Bridge{
		target: target,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ListenAndServe runs the HTTP side of the bridge until the context is
// canceled.
func (b *Bridge) ListenAndServe(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", b.ServeWS)

	server := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("ws bridge listening on %s, proxying to %s", addr, b.target)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// ServeWS upgrades one request and relays frames until either side closes.
// Outbound server messages arrive newline-framed and leave as one websocket
// text frame each; inbound frames are already one message apiece.
func (b *Bridge) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	conn, err := net.Dial("tcp", b.target)
	if err != nil {
		log.Printf("ws bridge dial %s: %v", b.target, err)
		_ = ws.WriteMessage(websocket.TextMessage,
			[]byte(`{"type":"error","data":{"message":"game server unavailable"}}`))
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
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
			if err := ws.WriteMessage(websocket.TextMessage, line); err != nil {
				return
			}
		}
	}()

	for {
		_, payload, err := ws.ReadMessage()
		if err != nil {
			break
		}
		if _, err := conn.Write(append(payload, '\n')); err != nil {
			break
		}
	}
	conn.Close()
	<-done
}
