package rfbserver

import (
	"context"
	"io"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// RFB carries its own security handshake; browsers enforce the
	// origin policy that matters for cookie-bearing protocols.
	CheckOrigin: func(r *http.Request) bool { return true },
	Subprotocols: []string{"binary"},
}

// WebsocketHandler returns an http.Handler that upgrades requests and
// runs an RFB session over the socket, the transport noVNC-style
// clients speak. The core session code is unchanged; the WebSocket
// frames are flattened into the ordered byte stream it expects.
func WebsocketHandler(srv *Server) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			srv.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		// net/http cancels the request context the moment the handler
		// returns, upgraded connections included, so the session must
		// not inherit it.
		sess := srv.ServeTransport(context.WithoutCancel(r.Context()), &wsStream{conn: ws}, r.RemoteAddr)
		<-sess.Done()
	})
}

// ListenWebsocket serves the websocket endpoint at /websockify on its
// own address, mirroring the conventional proxy path.
func ListenWebsocket(ctx context.Context, srv *Server, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/websockify", WebsocketHandler(srv))
	hs := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		hs.Close()
	}()
	return hs.ListenAndServe()
}

// wsStream adapts a websocket connection to the Transport byte-stream
// contract. Message boundaries carry no meaning for RFB, so reads
// drain binary messages sequentially.
type wsStream struct {
	conn   *websocket.Conn
	reader io.Reader
}

func (s *wsStream) Read(p []byte) (int, error) {
	for {
		if s.reader == nil {
			msgType, r, err := s.conn.NextReader()
			if err != nil {
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			if msgType != websocket.BinaryMessage {
				continue
			}
			s.reader = r
		}
		n, err := s.reader.Read(p)
		if err == io.EOF {
			s.reader = nil
			if n == 0 {
				continue
			}
			return n, nil
		}
		return n, err
	}
}

func (s *wsStream) Write(p []byte) (int, error) {
	if err := s.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (s *wsStream) Close() error {
	return s.conn.Close()
}
