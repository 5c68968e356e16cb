package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

// WebSocketConn adapts a gorilla/websocket connection to Conn, the
// transport a browser-hosted proxy uses when it cannot share an
// in-process channel or Unix socket with the root (e.g. a sibling
// window's iframe reached only via HTTP). Grounded on the teacher's
// web.go bridge, which shuttled ndjson lines between a websocket and a
// Unix socket; here the websocket speaks the protocol directly instead
// of being bridged to a second transport, since gorilla/websocket
// gives us message framing the teacher had to hand-roll over a raw
// byte stream.
type WebSocketConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	recv chan []byte
	done chan struct{}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// UpgradeConn upgrades an HTTP request to a WebSocket and wraps it.
func UpgradeConn(w http.ResponseWriter, r *http.Request) (*WebSocketConn, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newWebSocketConn(ws), nil
}

func newWebSocketConn(ws *websocket.Conn) *WebSocketConn {
	wc := &WebSocketConn{
		ws:   ws,
		recv: make(chan []byte, 64),
		done: make(chan struct{}),
	}
	go wc.readLoop()
	return wc
}

func (wc *WebSocketConn) readLoop() {
	defer close(wc.recv)
	for {
		_, data, err := wc.ws.ReadMessage()
		if err != nil {
			return
		}
		select {
		case wc.recv <- data:
		case <-wc.done:
			return
		}
	}
}

func (wc *WebSocketConn) Send(ctx context.Context, line []byte) error {
	wc.writeMu.Lock()
	defer wc.writeMu.Unlock()
	return wc.ws.WriteMessage(websocket.TextMessage, line)
}

func (wc *WebSocketConn) Recv() <-chan []byte {
	return wc.recv
}

func (wc *WebSocketConn) Close() error {
	select {
	case <-wc.done:
	default:
		close(wc.done)
	}
	return wc.ws.Close()
}
