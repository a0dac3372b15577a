package transport

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Keep-alive timings, same values and relationship as
// niceyeti-tabular/server/server.go's websocket loop.
const (
	writeWait  = 1 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{}

// wireMessage is Message's JSON-safe shape: Payload travels base64 under
// the hood via json's []byte handling, so no custom marshaling is needed.
type wireMessage struct {
	Type MsgType
	Step int64
	Data []byte
}

// WSConn is a transport.Conn over a gorilla/websocket connection, with a
// background ping loop whose answering pongs keep this side's read deadline
// alive, the way niceyeti-tabular's server does for its push connection.
type WSConn struct {
	conn   *websocket.Conn
	toSend chan Message
	toRecv chan Message
	stop   chan struct{}

	stopOnce sync.Once
	recvOnce sync.Once // guards toRecv: reader and writer can both hit it on the same peer disconnect
}

// ListenWS upgrades the first request that hits path on addr into a
// WebSocket connection, then returns a Conn over it.
func ListenWS(addr, path string) (*WSConn, error) {
	connCh := make(chan *websocket.Conn, 1)
	errCh := make(chan error, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			errCh <- fmt.Errorf("transport: upgrade: %w", err)
			return
		}
		connCh <- ws
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go server.ListenAndServe()

	select {
	case ws := <-connCh:
		return newWSConn(ws), nil
	case err := <-errCh:
		return nil, err
	}
}

// DialWS connects to a peer already serving WebSocket upgrades at url.
func DialWS(url string) (*WSConn, error) {
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", url, err)
	}
	return newWSConn(ws), nil
}

func newWSConn(ws *websocket.Conn) *WSConn {
	c := &WSConn{
		conn:   ws,
		toSend: make(chan Message, chanBuffer),
		toRecv: make(chan Message, chanBuffer),
		stop:   make(chan struct{}),
	}

	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.startWriter()
	go c.startReader()
	return c
}

// closeRecv closes toRecv exactly once. A peer disconnect commonly fails
// the reader's blocked ReadJSON and a concurrently in-flight WriteJSON/ping
// at the same time, so startReader and startWriter can both reach here for
// the same disconnect; sync.Once keeps that from panicking with "close of
// closed channel."
func (c *WSConn) closeRecv() {
	c.recvOnce.Do(func() {
		close(c.toRecv)
	})
}

func (c *WSConn) startWriter() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return

		case msg := <-c.toSend:
			wm := wireMessage{Type: msg.Type, Step: msg.Step, Data: msg.Payload}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(wm); err != nil {
				c.closeRecv()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeRecv()
				return
			}
		}
	}
}

func (c *WSConn) startReader() {
	for {
		var wm wireMessage
		if err := c.conn.ReadJSON(&wm); err != nil {
			c.closeRecv()
			return
		}

		msg := Message{Type: wm.Type, Step: wm.Step, Payload: wm.Data}
		select {
		case c.toRecv <- msg:
		case <-c.stop:
			return
		}
	}
}

// Send queues msg for delivery.
func (c *WSConn) Send(msg Message) {
	select {
	case c.toSend <- msg:
	case <-c.stop:
	}
}

// Recv returns the next inbound Message, or ok=false once the connection
// has closed.
func (c *WSConn) Recv() (Message, bool) {
	msg, ok := <-c.toRecv
	return msg, ok
}

func (c *WSConn) Close() error {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.conn.Close()
}
