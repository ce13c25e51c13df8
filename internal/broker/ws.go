package broker

import (
	"bufio"
	"context"
	"io"

	"github.com/gorilla/websocket"
)

// wsConn adapts a gorilla/websocket connection to the Conn interface BFC
// reads and writes against. Binary frames decode as wire.Frame envelopes;
// text frames carry the JSON login/control protocol.
type wsConn struct {
	conn   *websocket.Conn
	reader *bufio.Reader
}

// wsMessageReader turns the message-oriented websocket API into the
// io.Reader bufio.Reader expects, so wire.ReadFrame can reassemble
// envelopes that straddle distinct websocket messages.
type wsMessageReader struct {
	conn *websocket.Conn
	cur  io.Reader
}

func (r *wsMessageReader) Read(p []byte) (int, error) {
	for {
		if r.cur != nil {
			n, err := r.cur.Read(p)
			if n > 0 {
				return n, nil
			}
			if err != nil && err != io.EOF {
				return 0, err
			}
			r.cur = nil
		}
		_, reader, err := r.conn.NextReader()
		if err != nil {
			return 0, err
		}
		r.cur = reader
	}
}

// DialWebSocket is the production Dialer: opens a real websocket to url.
func DialWebSocket(ctx context.Context, url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &wsConn{
		conn:   conn,
		reader: bufio.NewReader(&wsMessageReader{conn: conn}),
	}, nil
}

func (w *wsConn) WriteText(b []byte) error {
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func (w *wsConn) WriteBinary(b []byte) error {
	return w.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (w *wsConn) Reader() *bufio.Reader {
	return w.reader
}

func (w *wsConn) Close() error {
	return w.conn.Close()
}
