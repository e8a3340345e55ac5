package exchange

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

// fakeBroker speaks just enough of the broker protocol for tests. handle returns the frames to
// send back for one request; the req_id is filled in automatically.
type fakeBroker struct {
	t      *testing.T
	server *httptest.Server
	handle func(req map[string]any) []map[string]any

	mu     sync.Mutex
	log    []string
	conns  []*websocket.Conn
	closed chan struct{}
}

func newFakeBroker(t *testing.T, handle func(req map[string]any) []map[string]any) *fakeBroker {
	t.Helper()
	b := &fakeBroker{t: t, handle: handle, closed: make(chan struct{}, 8)}
	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, conn)
		b.mu.Unlock()
		b.serve(conn)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(b.server.URL, "http") + "/websockets/v3?app_id=1089"
}

func (b *fakeBroker) serve(conn *websocket.Conn) {
	var writeMu sync.Mutex
	defer func() {
		b.record("close")
		b.closed <- struct{}{}
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]any
		if err := json.Unmarshal(raw, &req); err != nil {
			continue
		}
		b.record(requestName(req))
		for _, resp := range b.handle(req) {
			resp["req_id"] = req["req_id"]
			writeMu.Lock()
			err := conn.WriteJSON(resp)
			writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (b *fakeBroker) record(event string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.log = append(b.log, event)
}

// events returns the request names received so far, in order, plus "close" on disconnect.
func (b *fakeBroker) events() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.log...)
}

// dropAll closes every server-side connection without a close frame.
func (b *fakeBroker) dropAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		_ = c.UnderlyingConn().Close()
	}
}

func apiError(msgType, code, message string) map[string]any {
	return map[string]any{
		"msg_type": msgType,
		"error":    map[string]any{"code": code, "message": message},
	}
}

func tickFrame(symbol string, quote float64, pip int, epoch int64) map[string]any {
	return map[string]any{
		"msg_type":     "tick",
		"subscription": map[string]any{"id": "sub-" + symbol},
		"tick": map[string]any{
			"symbol":   symbol,
			"quote":    quote,
			"epoch":    epoch,
			"pip_size": pip,
			"id":       "sub-" + symbol,
		},
	}
}
