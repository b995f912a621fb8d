// Package client is a small Wayland client. It covers the core
// protocol, sub-surfaces and enough of xdg-shell to put a window on
// screen, which is what the compositor's tests and examples need.
//
// Events are read on a background goroutine but are only dispatched,
// and requests only sent, when Flush or RoundTrip is called, so all
// callbacks run on the goroutine that calls them.
package client

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"deedles.dev/wlcomp/internal/debug"
	"deedles.dev/wlcomp/internal/ev"
	"deedles.dev/wlcomp/protocol"
	"deedles.dev/wlcomp/wire"
)

// object is anything that can receive events.
type object interface {
	dispatch(msg *wire.MessageBuffer) error
	iface() *protocol.Interface
	deleted()
}

// proxy is the client side of a protocol object.
type proxy struct {
	id      uint32
	display *Display
}

func (p *proxy) ID() uint32 {
	return p.id
}

func (p *proxy) deleted() {}

func (p *proxy) request(in *protocol.Interface, op uint16) *wire.MessageBuilder {
	mb := wire.NewMessage(p.id, op)
	mb.Interface = in.Name
	if int(op) < len(in.Requests) {
		mb.Method = in.Requests[op]
	}
	return mb
}

// Display is a connection to a compositor.
type Display struct {
	proxy

	// Error is called when the compositor reports a protocol error.
	// The compositor closes the connection afterwards.
	Error func(id, code uint32, msg string)

	done     chan struct{}
	close    sync.Once
	conn     *wire.Conn
	objects  map[uint32]object
	nextID   uint32
	registry *Registry
	queue    *ev.Queue
}

// Dial connects to the compositor named by the environment.
func Dial() (*Display, error) {
	c, err := wire.Dial()
	if err != nil {
		return nil, err
	}
	return Connect(c), nil
}

// Connect starts a client on an already open connection.
func Connect(conn *wire.Conn) *Display {
	display := Display{
		done:    make(chan struct{}),
		conn:    conn,
		objects: make(map[uint32]object),
		nextID:  1,
		queue:   ev.NewQueue(),
	}
	display.display = &display
	display.id = display.add(&display)
	go display.listen()

	return &display
}

func (display *Display) listen() {
	for {
		msg, err := display.conn.ReadMessage()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, io.EOF) {
				err = ErrDisconnected
			} else {
				err = fmt.Errorf("%w: %w", ErrDisconnected, err)
			}

			select {
			case <-display.done:
			case display.queue.Add() <- func() error { return err }:
			}
			return
		}

		select {
		case <-display.done:
			return
		case display.queue.Add() <- func() error { return display.dispatchMessage(msg) }:
		}
	}
}

// Close closes the connection.
func (display *Display) Close() error {
	display.close.Do(func() { close(display.done) })
	display.queue.Stop()
	return display.conn.Close()
}

func (display *Display) add(obj object) uint32 {
	id := display.nextID
	display.nextID++

	display.objects[id] = obj
	return id
}

func (display *Display) newProxy(obj object) proxy {
	return proxy{id: display.add(obj), display: display}
}

func (display *Display) object(id uint32) object {
	return display.objects[id]
}

func (display *Display) dispatchMessage(msg *wire.MessageBuffer) error {
	obj := display.objects[msg.Sender()]
	if obj == nil {
		return UnknownSenderIDError{Msg: msg}
	}

	in := obj.iface()
	debug.Printf("%v", msg.Debug(in.Name, in.EventName(msg.Op())))
	err := obj.dispatch(msg)
	if err != nil {
		return err
	}
	return msg.Err()
}

// send queues a request. It is written on the next Flush.
func (display *Display) send(mb *wire.MessageBuilder) {
	display.queue.Add() <- func() error {
		debug.Printf(" -> %v", mb)
		return display.conn.WriteMessage(mb)
	}
}

// Flush sends queued requests and dispatches received events. It does
// not block.
func (display *Display) Flush() error {
	select {
	case events := <-display.queue.Get():
		return events.Flush()
	default:
		return nil
	}
}

// RoundTrip flushes and then blocks until the compositor has handled
// every request sent so far, dispatching events as they arrive.
func (display *Display) RoundTrip() error {
	get := display.queue.Get()
	done := make(chan struct{})
	display.Sync().Then(func(uint32) {
		close(done)
		get = nil
	})

	var errs []error
	for {
		select {
		case <-done:
			return errors.Join(errs...)
		case <-display.done:
			return errors.Join(append(errs, net.ErrClosed)...)
		case events := <-get:
			for _, err := range ev.Flush(events) {
				errs = append(errs, err)
				if errors.Is(err, ErrDisconnected) {
					return errors.Join(errs...)
				}
			}
		}
	}
}

// Sync asks the compositor for a callback once it has handled every
// request sent before it.
func (display *Display) Sync() *Callback {
	cb := newCallback(display)
	mb := display.request(&protocol.Display, protocol.DisplaySync)
	mb.WriteUint(cb.id)
	display.send(mb)
	return cb
}

// Registry returns the connection's registry, creating it the first
// time.
func (display *Display) Registry() *Registry {
	if display.registry != nil {
		return display.registry
	}

	registry := Registry{globals: make(map[uint32]Interface)}
	registry.proxy = display.newProxy(&registry)
	mb := display.request(&protocol.Display, protocol.DisplayGetRegistry)
	mb.WriteUint(registry.id)
	display.send(mb)

	display.registry = &registry
	return &registry
}

func (display *Display) iface() *protocol.Interface {
	return &protocol.Display
}

func (display *Display) dispatch(msg *wire.MessageBuffer) error {
	switch msg.Op() {
	case protocol.DisplayError:
		id := msg.ReadObject()
		code := msg.ReadUint()
		text := msg.ReadString()
		if display.Error != nil {
			display.Error(id, code, text)
		}
		return nil

	case protocol.DisplayDeleteID:
		id := msg.ReadUint()
		if obj, ok := display.objects[id]; ok {
			obj.deleted()
			delete(display.objects, id)
		}
		return nil

	default:
		return wire.UnknownOpError{Interface: protocol.Display.Name, Op: msg.Op()}
	}
}

// ErrDisconnected is returned once the compositor has closed the
// connection.
var ErrDisconnected = errors.New("disconnected from compositor")

type UnknownSenderIDError struct {
	Msg *wire.MessageBuffer
}

func (err UnknownSenderIDError) Error() string {
	return fmt.Sprintf("unknown sender object ID: %v", err.Msg.Sender())
}
