package protocol

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"os"
	"sync"

	"github.com/google/uuid"
)

// Server listens on a single unix stream socket and serves requests
// against a Dispatcher, one goroutine per connection (spec.md §4.10,
// §5: "accepts connections concurrently; each connection is
// independent").
type Server struct {
	SocketPath string
	Dispatcher *Dispatcher

	listener net.Listener
	wg       sync.WaitGroup
}

// Listen binds the unix socket at s.SocketPath, removing any stale
// socket file left behind by a prior, uncleanly terminated run.
func (s *Server) Listen() error {
	if _, err := os.Stat(s.SocketPath); err == nil {
		if err := os.Remove(s.SocketPath); err != nil {
			return err
		}
	}
	ln, err := net.Listen("unix", s.SocketPath)
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

// Serve accepts connections until the listener is closed, dispatching
// each to its own goroutine. It returns nil on a clean shutdown
// (Close called concurrently) and the accept error otherwise.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				s.wg.Wait()
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

// Close stops accepting new connections and removes the socket file.
func (s *Server) Close() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	os.Remove(s.SocketPath)
	return err
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	connID := uuid.New().String()
	r := bufio.NewReader(conn)

	for {
		data, err := readRequest(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Printf("protocol[%s]: reading request: %v", connID, err)
			}
			return
		}

		cmdType, params, err := decodeRequest(data)
		if err != nil {
			log.Printf("protocol[%s]: malformed request, closing connection: %v", connID, err)
			s.writeResult(conn, connID, failResult(err.Error()))
			return
		}

		log.Printf("protocol[%s]: dispatching %s", connID, cmdType)
		result := s.Dispatcher.Dispatch(context.Background(), cmdType, params)
		s.writeResult(conn, connID, result)
	}
}

func (s *Server) writeResult(conn net.Conn, connID string, result node) {
	out, err := encodeResponse(result)
	if err != nil {
		log.Printf("protocol[%s]: encoding response: %v", connID, err)
		return
	}
	if _, err := conn.Write(out); err != nil {
		log.Printf("protocol[%s]: writing response: %v", connID, err)
	}
}
