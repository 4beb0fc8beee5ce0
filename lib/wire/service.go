// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/logmonitor/lib/codec"
)

// Handler processes one incoming call. The handler must complete the
// call (Reply with continues=false, or ReplyError) before returning,
// unless the call negotiated continued replies — then the handler may
// leave the call open and keep replying from later dispatch cycles.
//
// A non-nil return means the handler could not reply at all; the
// service logs the error and closes the connection.
type Handler func(call *Call, parameters codec.RawMessage) error

// ErrorMethodNotFound is the error kind replied for an unknown method.
const ErrorMethodNotFound = "MethodNotFound"

// Service serves the framed call/reply protocol on a unix socket,
// single-threaded and non-blocking. All transport descriptors live in
// one inner epoll; Fd exposes its descriptor so the whole transport
// registers with the process's outer wait set as one source.
//
// Not safe for concurrent use: every method must be called from the
// event loop thread.
type Service struct {
	epollFd    int
	listenFd   int
	socketPath string

	handlers    map[string]Handler
	connections map[int32]*connection
	logger      *slog.Logger
}

// NewService binds address, replacing a stale socket file, and
// listens. Register methods with Handle before processing events.
func NewService(address string, logger *slog.Logger) (*Service, error) {
	if err := os.Remove(address); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", address, err)
	}

	listenFd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(listenFd, &unix.SockaddrUnix{Name: address}); err != nil {
		unix.Close(listenFd)
		return nil, fmt.Errorf("binding %s: %w", address, err)
	}
	if err := unix.Listen(listenFd, unix.SOMAXCONN); err != nil {
		unix.Close(listenFd)
		return nil, fmt.Errorf("listening on %s: %w", address, err)
	}

	service, err := newService(listenFd, address, logger)
	if err != nil {
		unix.Close(listenFd)
		os.Remove(address)
		return nil, err
	}
	return service, nil
}

// NewServiceFromListener adopts an already-listening descriptor (an
// activator's inherited socket). The descriptor is switched to
// non-blocking; the service takes ownership and closes it on Close.
func NewServiceFromListener(listenFd int, logger *slog.Logger) (*Service, error) {
	if err := unix.SetNonblock(listenFd, true); err != nil {
		return nil, fmt.Errorf("setting listener non-blocking: %w", err)
	}
	return newService(listenFd, "", logger)
}

func newService(listenFd int, socketPath string, logger *slog.Logger) (*Service, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	service := &Service{
		epollFd:     epollFd,
		listenFd:    listenFd,
		socketPath:  socketPath,
		handlers:    make(map[string]Handler),
		connections: make(map[int32]*connection),
		logger:      logger,
	}

	if err := service.watch(listenFd, unix.EPOLLIN); err != nil {
		unix.Close(epollFd)
		return nil, err
	}
	return service, nil
}

// Fd returns the inner epoll descriptor. It polls readable whenever
// the service has pending transport work; the owner then calls
// ProcessEvents.
func (s *Service) Fd() int {
	return s.epollFd
}

// Handle registers a method handler. Panics on a duplicate method, a
// programming error caught at startup.
func (s *Service) Handle(method string, handler Handler) {
	if _, exists := s.handlers[method]; exists {
		panic(fmt.Sprintf("wire.Service: duplicate handler for method %q", method))
	}
	s.handlers[method] = handler
}

// ProcessEvents drains all pending transport work without blocking:
// accepts new connections, reads and dispatches complete requests,
// flushes queued writes, and tears down hung-up connections (running
// their disconnect callbacks). Returns only unrecoverable errors;
// per-connection failures are logged and close that connection.
func (s *Service) ProcessEvents() error {
	var events [16]unix.EpollEvent
	for {
		n, err := unix.EpollWait(s.epollFd, events[:], 0)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("epoll_wait: %w", err)
		}
		if n == 0 {
			return nil
		}

		for _, event := range events[:n] {
			if int(event.Fd) == s.listenFd {
				if err := s.acceptPending(); err != nil {
					return err
				}
				continue
			}
			// The connection may have been closed by an earlier
			// event in this batch.
			if conn, open := s.connections[event.Fd]; open {
				s.serveConnection(conn, event.Events)
			}
		}
	}
}

// acceptPending accepts every queued connection. Transient accept
// failures are logged; only listener-level failures are returned.
func (s *Service) acceptPending() error {
	for {
		fd, _, err := unix.Accept4(s.listenFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return nil
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			if err == unix.EMFILE || err == unix.ENFILE {
				s.logger.Error("accept failed, descriptor limit reached", "error", err)
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}

		conn := &connection{fd: fd}
		if err := s.watch(fd, unix.EPOLLIN); err != nil {
			s.logger.Error("registering connection failed", "error", err)
			unix.Close(fd)
			continue
		}
		s.connections[int32(fd)] = conn
	}
}

// serveConnection handles one readiness notification for a connection.
func (s *Service) serveConnection(conn *connection, events uint32) {
	if events&(unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		s.closeConnection(conn)
		return
	}

	if events&unix.EPOLLOUT != 0 {
		if err := s.flush(conn); err != nil {
			s.logger.Debug("write failed, closing connection", "error", err)
			s.closeConnection(conn)
			return
		}
	}

	if events&unix.EPOLLIN != 0 {
		closed, err := s.readPending(conn)
		if err != nil {
			s.logger.Debug("read failed, closing connection", "error", err)
			s.closeConnection(conn)
			return
		}
		if closed {
			s.closeConnection(conn)
			return
		}
		if err := s.dispatchFrames(conn); err != nil {
			s.logger.Debug("protocol error, closing connection", "error", err)
			s.closeConnection(conn)
		}
	}
}

// readPending drains readable bytes into the connection's inbound
// buffer. Returns closed=true on end of stream.
func (s *Service) readPending(conn *connection) (closed bool, err error) {
	buffer := make([]byte, 32*1024)
	for {
		n, err := unix.Read(conn.fd, buffer)
		if err != nil {
			if err == unix.EAGAIN {
				return false, nil
			}
			if err == unix.EINTR {
				continue
			}
			return false, fmt.Errorf("read: %w", err)
		}
		if n == 0 {
			return true, nil
		}
		conn.inbound = append(conn.inbound, buffer[:n]...)
	}
}

// dispatchFrames processes every complete request frame buffered on
// the connection.
func (s *Service) dispatchFrames(conn *connection) error {
	for {
		payload, rest, ok, err := extractFrame(conn.inbound)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		conn.inbound = rest

		var request Request
		if err := codec.Unmarshal(payload, &request); err != nil {
			return fmt.Errorf("decoding request: %w", err)
		}
		if err := s.dispatch(conn, request); err != nil {
			return err
		}
		// The dispatch may have closed the connection (handler
		// failure); stop touching its buffers if so.
		if _, open := s.connections[int32(conn.fd)]; !open {
			return nil
		}
	}
}

// dispatch routes one request to its method handler.
func (s *Service) dispatch(conn *connection, request Request) error {
	if conn.active != nil {
		return fmt.Errorf("request received while call %q is streaming", request.Method)
	}

	call := &Call{service: s, connection: conn, more: request.More}

	handler, exists := s.handlers[request.Method]
	if !exists {
		return call.ReplyError(ErrorMethodNotFound, nil)
	}

	if request.More {
		conn.active = call
	}
	if err := handler(call, request.Parameters); err != nil {
		s.logger.Error("method handler failed",
			"method", request.Method,
			"error", err,
		)
		return fmt.Errorf("handler for %q: %w", request.Method, err)
	}
	return nil
}

// flush writes as much of the outbound buffer as the socket accepts,
// arming EPOLLOUT while a remainder is queued.
func (s *Service) flush(conn *connection) error {
	for len(conn.outbound) > 0 {
		n, err := unix.Write(conn.fd, conn.outbound)
		if err != nil {
			if err == unix.EAGAIN {
				return s.armWritable(conn, true)
			}
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("write: %w", err)
		}
		conn.outbound = conn.outbound[n:]
	}
	return s.armWritable(conn, false)
}

// armWritable toggles EPOLLOUT interest for the connection.
func (s *Service) armWritable(conn *connection, writable bool) error {
	if conn.writableArmed == writable {
		return nil
	}
	events := uint32(unix.EPOLLIN)
	if writable {
		events |= unix.EPOLLOUT
	}
	event := unix.EpollEvent{Events: events, Fd: int32(conn.fd)}
	if err := unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_MOD, conn.fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", conn.fd, err)
	}
	conn.writableArmed = writable
	return nil
}

// closeConnection tears a connection down: deregisters its
// descriptor, closes it, and runs the disconnect callback of a
// pinned streaming call, exactly once.
func (s *Service) closeConnection(conn *connection) {
	if _, open := s.connections[int32(conn.fd)]; !open {
		return
	}
	delete(s.connections, int32(conn.fd))
	unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_DEL, conn.fd, nil)
	unix.Close(conn.fd)

	if call := conn.active; call != nil {
		conn.active = nil
		call.completed = true
		if notify := call.onDisconnect; notify != nil {
			call.onDisconnect = nil
			notify()
		}
	}
}

// watch adds fd to the inner epoll.
func (s *Service) watch(fd int, events uint32) error {
	event := unix.EpollEvent{Events: events, Fd: int32(fd)}
	if err := unix.EpollCtl(s.epollFd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	return nil
}

// Close shuts the service down: every open connection is closed (with
// disconnect callbacks), the listener and inner epoll are released,
// and the socket file is removed.
func (s *Service) Close() error {
	for _, conn := range s.connections {
		s.closeConnection(conn)
	}
	unix.Close(s.listenFd)
	unix.Close(s.epollFd)
	if s.socketPath != "" {
		os.Remove(s.socketPath)
	}
	return nil
}

// connection is the per-client transport state.
type connection struct {
	fd       int
	inbound  []byte
	outbound []byte

	// active is the streaming call pinned to this connection, nil
	// when the connection is idle. At most one call is in flight per
	// connection.
	active *Call

	writableArmed bool
}
