package transport

import (
	"fmt"
	"net"
	"sync"
)

// Conn is the small interface cmd/rollbackdemo drives a rollback.Session's
// host contract through: Send queues an outbound Message, Recv yields the
// next inbound one (or ok=false once Close has been called and the queue
// has drained), and Close tears the connection down.
type Conn interface {
	Send(Message)
	Recv() (Message, bool)
	Close() error
}

const chanBuffer = 1000 // matches netplay.Netplay's toSend/toRecv channel depth.

// TCPConn is a length-prefixed net.Conn framing, channel-fed exactly like
// netplay.Netplay: a writer goroutine drains toSend, a reader goroutine
// fills toRecv, and both exit when stop is closed.
type TCPConn struct {
	conn   net.Conn
	toSend chan Message
	toRecv chan Message
	stop   chan struct{}

	stopOnce sync.Once
	recvOnce sync.Once // guards toRecv: reader and writer can both hit it on the same peer disconnect
}

// ListenTCP blocks until a single peer connects to addr.
func ListenTCP(addr string) (*TCPConn, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	defer listener.Close()

	conn, err := listener.Accept()
	if err != nil {
		return nil, fmt.Errorf("transport: accept connection: %w", err)
	}

	return newTCPConn(conn), nil
}

// DialTCP connects to a peer already listening at addr.
func DialTCP(addr string) (*TCPConn, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	return newTCPConn(conn), nil
}

func newTCPConn(conn net.Conn) *TCPConn {
	c := &TCPConn{
		conn:   conn,
		toSend: make(chan Message, chanBuffer),
		toRecv: make(chan Message, chanBuffer),
		stop:   make(chan struct{}),
	}
	go c.startWriter()
	go c.startReader()
	return c
}

// closeRecv closes toRecv exactly once. A peer disconnect (e.g. a TCP RST)
// commonly fails the reader's blocked Read and a concurrently in-flight
// Write at the same time, so startReader and startWriter can both reach
// here for the same disconnect; sync.Once keeps that from panicking with
// "close of closed channel."
func (c *TCPConn) closeRecv() {
	c.recvOnce.Do(func() {
		close(c.toRecv)
	})
}

func (c *TCPConn) startWriter() {
	for {
		select {
		case <-c.stop:
			return
		case msg := <-c.toSend:
			if err := writeMessage(c.conn, msg); err != nil {
				// A dead connection is the host's problem to notice (via
				// Recv returning ok=false), not a contract violation of
				// this package, so we just stop rather than panic.
				c.closeRecv()
				return
			}
		}
	}
}

func (c *TCPConn) startReader() {
	for {
		msg, err := readMessage(c.conn)
		if err != nil {
			c.closeRecv()
			return
		}

		select {
		case c.toRecv <- msg:
		case <-c.stop:
			return
		}
	}
}

// Send queues msg for delivery. Never blocks the caller on the network.
func (c *TCPConn) Send(msg Message) {
	select {
	case c.toSend <- msg:
	case <-c.stop:
	}
}

// Recv returns the next inbound Message, or ok=false once the connection
// has closed and no more are pending.
func (c *TCPConn) Recv() (Message, bool) {
	msg, ok := <-c.toRecv
	return msg, ok
}

func (c *TCPConn) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	return c.conn.Close()
}
