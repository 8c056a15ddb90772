package rpc

import (
	"errors"
	"net"
	"net/http"
	"net/rpc"
	"sync"

	"github.com/zeebo/errs"
)

// Error is the error class for transport failures.
var Error = errs.Class("rpc")

// Server serves net/rpc over HTTP CONNECT on its own mux, so several servers
// can live in one process without touching http.DefaultServeMux.
type Server struct {
	rpc  *rpc.Server
	mux  *http.ServeMux
	http *http.Server

	closeOnce sync.Once
}

func NewServer() *Server {
	s := &Server{
		rpc: rpc.NewServer(),
		mux: http.NewServeMux(),
	}
	s.mux.Handle(rpc.DefaultRPCPath, s.rpc)
	s.http = &http.Server{Handler: s.mux}
	return s
}

// Register publishes the exported RPC methods of rcvr under name.
func (s *Server) Register(name string, rcvr any) error {
	return Error.Wrap(s.rpc.RegisterName(name, rcvr))
}

// Handle mounts a plain HTTP handler next to the RPC endpoint.
func (s *Server) Handle(pattern string, h http.Handler) {
	s.mux.Handle(pattern, h)
}

// Serve accepts connections on l until Close is called. It returns nil after
// Close.
func (s *Server) Serve(l net.Listener) error {
	err := s.http.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return Error.Wrap(err)
}

// Close stops accepting connections. Calls already in progress on hijacked
// RPC connections still deliver their replies.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.http.Close()
	})
	return Error.Wrap(err)
}
