// Package collab is the collaboration core: rooms, their broadcast buses
// and member sets, the process-wide room manager, and the socket handler
// that runs the sync protocol between clients and a room's document.
package collab

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/openboard/openboard/auth"
	"github.com/openboard/openboard/crdt"
	"github.com/openboard/openboard/db"
	"github.com/openboard/openboard/ysync"
)

// elementsMap is the well-known document substructure holding board
// elements as id -> element JSON.
const elementsMap = "elements"

// saveInterval is the per-connection persistence cadence: every Nth sync
// frame triggers a snapshot save.
const saveInterval = 100

// Server accepts board socket connections and binds them to rooms.
type Server struct {
	ctx      context.Context
	manager  *Manager
	oracle   *auth.Oracle
	store    db.SnapshotStore
	upgrader websocket.Upgrader
}

// ServerConfig options for the collaboration server.
type ServerConfig struct {
	Manager *Manager
	Oracle  *auth.Oracle
	Store   db.SnapshotStore
}

// NewServer creates the collaboration server.
func NewServer(ctx context.Context, cfg *ServerConfig) *Server {
	return &Server{
		ctx:     ctx,
		manager: cfg.Manager,
		oracle:  cfg.Oracle,
		store:   cfg.Store,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Board access is governed by tokens, not origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Manager exposes the room registry, e.g. for status reporting.
func (s *Server) Manager() *Manager {
	return s.manager
}

// SocketHandler serves GET /ws/{board_id}. The request must carry exactly
// one of the token or share_token query parameters; on any verification
// failure the upgrade is refused with 401 and no room side effects.
func (s *Server) SocketHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		boardID, err := uuid.Parse(mux.Vars(r)["board_id"])
		if err != nil {
			http.Error(w, "invalid board id", http.StatusBadRequest)
			return
		}

		principal, err := s.authenticate(r, boardID)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Debug("Socket upgrade failed")
			return
		}
		s.serveConnection(conn, boardID, principal)
	}
}

func (s *Server) authenticate(r *http.Request, boardID uuid.UUID) (*auth.Principal, error) {
	query := r.URL.Query()
	if token := query.Get("token"); token != "" {
		return s.oracle.VerifyBearer(token)
	}
	if token := query.Get("share_token"); token != "" {
		principal, _, err := s.oracle.ResolveShare(r.Context(), token, boardID)
		return principal, err
	}
	return nil, auth.ErrUnauthorized
}

func (s *Server) serveConnection(conn *websocket.Conn, boardID uuid.UUID, principal *auth.Principal) {
	openConnections.Inc()
	defer openConnections.Dec()

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	room := s.manager.GetOrCreate(boardID)
	if room.MemberCount() == 0 {
		s.hydrate(ctx, room)
	}

	room.AddMember(principal.ID, principal.Name)
	sub := room.Subscribe()
	defer sub.Unsubscribe()

	clog := log.WithFields(logrus.Fields{
		"board": boardID,
		"user":  principal.Name,
	})
	clog.Info("Member joined board")

	// Initial push, in order: our state vector inviting the client's own
	// step 2, the element snapshot for clients that skip CRDT replay, then
	// the join event for everyone. The pumps are not running yet, so these
	// writes cannot interleave with egress traffic.
	if err := conn.WriteMessage(websocket.BinaryMessage, ysync.EncodeStep1(room.Doc())); err != nil {
		s.teardown(ctx, conn, room, principal, clog)
		return
	}
	if frame, ok := elementsStateFrame(room); ok {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			s.teardown(ctx, conn, room, principal, clog)
			return
		}
	}
	room.Publish(Frame{Kind: TextFrame, Data: mustJSON(map[string]interface{}{
		"type":     "join",
		"userId":   principal.ID.String(),
		"username": principal.Name,
		"users":    room.Members(),
	})})

	// Egress pump: first to fail closes the socket, which in turn unblocks
	// the ingress read loop.
	go func() {
		defer cancel()
		defer func() {
			if err := conn.Close(); err != nil {
				clog.WithError(err).Debug("Socket close failed")
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Done():
				return
			case frame := <-sub.C():
				msgType := websocket.BinaryMessage
				if frame.Kind == TextFrame {
					msgType = websocket.TextMessage
				}
				if err := conn.WriteMessage(msgType, frame.Data); err != nil {
					return
				}
			}
		}
	}()

	s.ingressLoop(ctx, conn, room, clog)
	s.teardown(ctx, conn, room, principal, clog)
}

// hydrate loads the board's persisted snapshot into a cold room. A load
// failure starts the document empty; peers repopulate it via step 2.
func (s *Server) hydrate(ctx context.Context, room *Room) {
	snapshot, err := s.store.Snapshot(ctx, room.BoardID)
	if err != nil {
		log.WithError(err).WithField("board", room.BoardID).Error("Could not load board snapshot")
		return
	}
	if snapshot == nil {
		return
	}
	if err := ysync.Load(room.Doc(), snapshot); err != nil {
		log.WithError(err).WithField("board", room.BoardID).Error("Could not replay board snapshot")
	}
}

func (s *Server) ingressLoop(ctx context.Context, conn *websocket.Conn, room *Room, clog *logrus.Entry) {
	saveCounter := 0
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				clog.WithError(err).Debug("Socket read failed")
			}
			return
		}
		switch msgType {
		case websocket.BinaryMessage:
			if len(data) == 0 {
				continue
			}
			if data[0] == ysync.MessageSync {
				response, err := ysync.Handle(room.Doc(), data)
				if err != nil {
					clog.WithError(err).Warn("Dropping malformed sync frame")
				}
				if response != nil {
					room.Publish(Frame{Kind: BinaryFrame, Data: response})
				}
				// Relay the original frame so every peer document
				// converges, the sender included.
				room.Publish(Frame{Kind: BinaryFrame, Data: data})

				saveCounter++
				if saveCounter%saveInterval == 0 {
					s.persist(ctx, room, clog)
				}
				continue
			}
			// Awareness and unknown binary frames are pure fan-out and
			// never touch the document.
			room.Publish(Frame{Kind: BinaryFrame, Data: data})
		case websocket.TextMessage:
			s.dispatchText(ctx, room, data, clog)
		}
	}
}

// dispatchText handles the JSON application messages. Unknown or unparsable
// payloads are relayed unchanged; the server is schema-agnostic beyond the
// element id.
func (s *Server) dispatchText(ctx context.Context, room *Room, data []byte, clog *logrus.Entry) {
	var msg struct {
		Type      string            `json:"type"`
		Element   json.RawMessage   `json:"element"`
		ElementID string            `json:"elementId"`
		Elements  []json.RawMessage `json:"elements"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		clog.WithError(err).Debug("Relaying unparsable text frame")
		room.Publish(Frame{Kind: TextFrame, Data: data})
		return
	}

	switch msg.Type {
	case "save_request":
		s.persist(ctx, room, clog)
		// Explicit saves are not rebroadcast.
		return
	case "element_add", "element_update":
		if id, ok := elementID(msg.Element); ok {
			room.WithDocWrite(func(tx crdt.WriteTx) {
				tx.MapSet(elementsMap, id, string(msg.Element))
			})
		}
	case "element_remove":
		if msg.ElementID != "" {
			room.WithDocWrite(func(tx crdt.WriteTx) {
				tx.MapDelete(elementsMap, msg.ElementID)
			})
		}
	case "sync_state":
		// Merge, never replace: upsert each carried element.
		if len(msg.Elements) > 0 {
			room.WithDocWrite(func(tx crdt.WriteTx) {
				for _, el := range msg.Elements {
					if id, ok := elementID(el); ok {
						tx.MapSet(elementsMap, id, string(el))
					}
				}
			})
		}
	}
	room.Publish(Frame{Kind: TextFrame, Data: data})
}

// persist copies a snapshot out under the document read lock and writes it
// to storage with the lock released. Failures are logged and never kill
// the connection; the next cadence retries implicitly.
func (s *Server) persist(ctx context.Context, room *Room, clog *logrus.Entry) {
	snapshot := ysync.Snapshot(room.Doc())
	if err := s.store.SaveSnapshot(ctx, room.BoardID, snapshot); err != nil {
		snapshotFailures.Inc()
		clog.WithError(err).Error("Could not save board snapshot")
		return
	}
	snapshotsSaved.Inc()
}

func (s *Server) teardown(ctx context.Context, conn *websocket.Conn, room *Room, principal *auth.Principal, clog *logrus.Entry) {
	if err := conn.Close(); err != nil {
		clog.WithError(err).Debug("Socket close failed")
	}
	room.RemoveMember(principal.ID)
	clog.Info("Member left board")

	room.Publish(Frame{Kind: TextFrame, Data: mustJSON(map[string]interface{}{
		"type":   "leave",
		"userId": principal.ID.String(),
		"users":  room.Members(),
	})})

	if room.MemberCount() == 0 {
		s.persist(ctx, room, clog)
		s.manager.RemoveIfEmpty(room.BoardID)
	}
}

// elementsStateFrame builds the sync_state text frame enumerating the
// current elements map, or reports false when the map is empty.
func elementsStateFrame(room *Room) ([]byte, bool) {
	var elements []json.RawMessage
	room.WithDocRead(func(tx crdt.ReadTx) {
		for _, value := range tx.MapEntries(elementsMap) {
			elements = append(elements, json.RawMessage(value))
		}
	})
	if len(elements) == 0 {
		return nil, false
	}
	return mustJSON(map[string]interface{}{
		"type":     "sync_state",
		"elements": elements,
	}), true
}

func elementID(element json.RawMessage) (string, bool) {
	if len(element) == 0 {
		return "", false
	}
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(element, &probe); err != nil || probe.ID == "" {
		return "", false
	}
	return probe.ID, true
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Only reachable on a programming error; all inputs are
		// marshalable maps and strings.
		panic(err)
	}
	return data
}
