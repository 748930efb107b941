// Package wsnotify adapts a gorilla/websocket connection to the
// bdv.Callback interface, one concrete transport among several the
// core can be framed by. It is not wired
// into command dispatch; a BDV constructed with a Socket callback
// receives notifications pushed to the browser/client over the socket
// instead of via a registerCallback long-poll.
package wsnotify

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/0ZTR/BitcoinArmory/internal/bdv"
	"github.com/0ZTR/BitcoinArmory/internal/logs"
	"github.com/0ZTR/BitcoinArmory/internal/panics"
)

var log, _ = logs.Get(logs.BDVS)
var spawn = panics.GoroutineWrapperFunc(log)

// wireAction is the JSON shape written to the socket for each action.
// Notification pushes use JSON rather than the binary Argument encoding
// internal/proto defines for the socket-command path.
type wireAction struct {
	Kind      string   `json:"kind"`
	Height    uint32   `json:"height,omitempty"`
	WalletIDs []string `json:"walletIds,omitempty"`
	Success   bool     `json:"success,omitempty"`
}

func wireActions(actions []bdv.Action) []wireAction {
	out := make([]wireAction, len(actions))
	for i, a := range actions {
		out[i] = wireAction{
			Kind:      a.Kind.String(),
			Height:    a.Height,
			WalletIDs: a.WalletIDs,
			Success:   a.Success,
		}
	}
	return out
}

// Socket implements bdv.Callback over a websocket connection. It wraps
// a bdv.SocketCallback for queueing and the 2-waiter bound, and runs its
// own background loop draining that queue and writing each batch as one
// websocket text frame.
type Socket struct {
	conn *websocket.Conn
	cb   *bdv.SocketCallback

	closeOnce sync.Once
}

// NewSocket builds a Socket over conn and starts its push loop.
func NewSocket(conn *websocket.Conn) *Socket {
	s := &Socket{conn: conn, cb: bdv.NewSocketCallback()}
	spawn(s.pushLoop)
	return s
}

// Emit implements bdv.Callback.
func (s *Socket) Emit(a bdv.Action) {
	s.cb.Emit(a)
}

// Drain implements bdv.Callback by delegating to the wrapped
// SocketCallback; registerCallback and the push loop share the same
// 2-waiter bound, so a transport using Socket should not also expose
// registerCallback to the same client.
func (s *Socket) Drain() ([]bdv.Action, error) {
	return s.cb.Drain()
}

// Close implements bdv.Callback.
func (s *Socket) Close() {
	s.closeOnce.Do(func() {
		s.cb.Close()
		if err := s.conn.Close(); err != nil {
			log.Debugf("wsnotify: conn close: %s", err)
		}
	})
}

func (s *Socket) pushLoop() {
	for {
		events, err := s.cb.Drain()
		if err != nil {
			return
		}

		payload, err := json.Marshal(wireActions(events))
		if err != nil {
			log.Errorf("wsnotify: marshal %d actions: %s", len(events), err)
			continue
		}
		if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Errorf("wsnotify: write: %s", err)
			s.Close()
			return
		}
	}
}
