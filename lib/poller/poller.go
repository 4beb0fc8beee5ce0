// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package poller

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ErrInterrupted is returned by Wait when the underlying epoll_wait is
// interrupted by a signal. The caller retries the wait; every other
// Wait error is unrecoverable.
var ErrInterrupted = errors.New("wait interrupted by signal")

// Event is one ready descriptor delivered by Wait, carrying the tag it
// was registered with.
type Event struct {
	Fd  int
	Tag any
}

// Poller is a tagged epoll wait set. It is not safe for concurrent
// use: registrations and waits must all happen from the single event
// loop thread.
type Poller struct {
	epollFd int
	tags    map[int32]any
}

// New creates an empty wait set.
func New() (*Poller, error) {
	epollFd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}
	return &Poller{
		epollFd: epollFd,
		tags:    make(map[int32]any),
	}, nil
}

// Add registers fd for readability with the given tag. The tag is
// returned verbatim by Wait when fd becomes ready.
func (p *Poller) Add(fd int, tag any) error {
	event := unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.epollFd, unix.EPOLL_CTL_ADD, fd, &event); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}
	p.tags[int32(fd)] = tag
	return nil
}

// Remove deregisters fd from the wait set. Removing a descriptor that
// was never added is an error; session teardown relies on Remove
// happening exactly once, before the descriptor is closed.
func (p *Poller) Remove(fd int) error {
	if _, registered := p.tags[int32(fd)]; !registered {
		return fmt.Errorf("fd %d is not registered", fd)
	}
	if err := unix.EpollCtl(p.epollFd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}
	delete(p.tags, int32(fd))
	return nil
}

// Wait blocks until a registered descriptor is ready and returns it
// with its tag. One event per call: the kernel round-robins across
// ready descriptors, which is fair enough because every dispatch is
// short. Returns ErrInterrupted on EINTR.
func (p *Poller) Wait() (Event, error) {
	var events [1]unix.EpollEvent
	n, err := unix.EpollWait(p.epollFd, events[:], -1)
	if err != nil {
		if err == unix.EINTR {
			return Event{}, ErrInterrupted
		}
		return Event{}, fmt.Errorf("epoll_wait: %w", err)
	}
	if n == 0 {
		// A -1 timeout should never return zero events; treat a
		// spurious wakeup as interrupted and let the caller retry.
		return Event{}, ErrInterrupted
	}

	fd := events[0].Fd
	tag, registered := p.tags[fd]
	if !registered {
		return Event{}, fmt.Errorf("ready fd %d has no registration", fd)
	}
	return Event{Fd: int(fd), Tag: tag}, nil
}

// Len returns the number of registered descriptors.
func (p *Poller) Len() int {
	return len(p.tags)
}

// Close releases the epoll descriptor. Registered descriptors are not
// closed; their owners remain responsible for them.
func (p *Poller) Close() error {
	if p.epollFd < 0 {
		return nil
	}
	err := unix.Close(p.epollFd)
	p.epollFd = -1
	return err
}
