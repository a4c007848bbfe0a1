package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tabletop/internal/apperr"
	"tabletop/internal/grid"
	"tabletop/internal/realtime"
	"tabletop/internal/syncbridge"
	"tabletop/internal/tactical"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	replyBuffer    = 16
)

// envelope is every message sent to a websocket client.
type envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

type clientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type rosterRecord struct {
	Users []tactical.Actor `json:"users"`
}

// view is the pointer-driven map view of one connection.
type view struct {
	mu     sync.Mutex
	in     *tactical.Interaction
	width  float64
	height float64
}

func (v *view) forget(tokenID string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.in.Forget(tokenID)
}

type wsClient struct {
	conn      *websocket.Conn
	actor     tactical.Actor
	sessionID string
	view      *view
	// replica mirrors what this client has been sent.
	replica *syncbridge.Replica
	replies chan envelope
	done    chan struct{}
}

func (c *wsClient) write(env envelope) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(env)
}

// handleWebsocket streams the session's change feed to the actor and accepts
// map commands. The first message is always a snapshot.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	sessionID := sess.ID()
	sub, unsubscribe := s.hub.Subscribe(sessionID, actor.ID)
	defer unsubscribe()

	c := &wsClient{
		conn:      conn,
		actor:     actor,
		sessionID: sessionID,
		view: &view{
			in:     tactical.NewInteraction(actor, sess, s.bridge.Dispatcher(sessionID)),
			width:  defaultStageWidth,
			height: defaultStageHeight,
		},
		replies: make(chan envelope, replyBuffer),
		done:    make(chan struct{}),
	}
	snapshot := sess.Snapshot().VisibleTo(actor)
	c.replica = syncbridge.NewReplica(snapshot, s.logger)
	c.replica.OnDelete = c.view.forget
	if err := c.write(envelope{Type: "snapshot", Payload: snapshot}); err != nil {
		s.logger.Error("send snapshot", slog.String("error", err.Error()))
		return
	}

	s.logger.Info("websocket connected", slog.String("session", sessionID), slog.String("actor", actor.ID), slog.String("role", string(actor.Role)))
	s.joinRoster(sessionID, conn, actor)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump(c, sub.Events)
	}()
	s.readPump(r.Context(), c)
	close(c.done)
	wg.Wait()

	unsubscribe()
	s.leaveRoster(sessionID, conn)
	s.logger.Info("websocket disconnected", slog.String("session", sessionID), slog.String("actor", actor.ID))
}

func (s *Server) writePump(c *wsClient, events <-chan realtime.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	// Unblocks the reader when writing fails.
	defer c.conn.Close()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"), time.Now().Add(writeWait))
				return
			}
			if err := c.replica.Apply(ev); err != nil {
				s.logger.Warn("skip change event", slog.String("session", c.sessionID), slog.String("table", ev.Table), slog.String("error", err.Error()))
				continue
			}
			if err := c.write(eventEnvelope(ev)); err != nil {
				s.logger.Warn("websocket write", slog.String("session", c.sessionID), slog.String("error", err.Error()))
				return
			}
			if ev.Table == realtime.TableSessions && ev.Kind == realtime.Delete {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session deleted"), time.Now().Add(writeWait))
				return
			}
		case env := <-c.replies:
			if err := c.write(env); err != nil {
				s.logger.Warn("websocket write", slog.String("session", c.sessionID), slog.String("error", err.Error()))
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (s *Server) readPump(ctx context.Context, c *wsClient) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("websocket read", slog.String("session", c.sessionID), slog.String("error", err.Error()))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		var msg clientMessage
		reply := errorEnvelope(apperr.New(apperr.CodeInvalidInput, "malformed message"))
		if err := json.Unmarshal(data, &msg); err == nil {
			reply = s.handleClientMessage(ctx, c, msg)
		}
		select {
		case c.replies <- reply:
		default:
			s.logger.Warn("dropping websocket reply", slog.String("session", c.sessionID), slog.String("type", reply.Type))
		}
	}
}

func (s *Server) handleClientMessage(ctx context.Context, c *wsClient, msg clientMessage) envelope {
	decode := func(v any) error {
		if len(msg.Payload) == 0 {
			return apperr.New(apperr.CodeInvalidInput, msg.Type+" requires a payload")
		}
		if err := json.Unmarshal(msg.Payload, v); err != nil {
			return apperr.Wrap(apperr.CodeInvalidInput, "invalid "+msg.Type+" payload", err)
		}
		return nil
	}

	switch msg.Type {
	case "ping":
		return envelope{Type: "pong"}

	case "moveToken":
		var p struct {
			TokenID string `json:"tokenId"`
			X       int    `json:"x"`
			Y       int    `json:"y"`
		}
		if err := decode(&p); err != nil {
			return errorEnvelope(err)
		}
		_, m, err := s.bridge.MoveToken(ctx, c.sessionID, c.actor, p.TokenID, grid.Cell{Col: p.X, Row: p.Y})
		if err != nil {
			return errorEnvelope(err)
		}
		return envelope{Type: "ack", Payload: map[string]any{"mutation": m}}

	case "toggleFog":
		var cell grid.Cell
		if err := decode(&cell); err != nil {
			return errorEnvelope(err)
		}
		concealed, m, err := s.bridge.ToggleFog(ctx, c.sessionID, c.actor, cell)
		if err != nil {
			return errorEnvelope(err)
		}
		return envelope{Type: "ack", Payload: fogToggleResponse{Concealed: concealed, Mutation: m}}

	case "pointerDown", "pointerMove", "pointerUp", "wheel", "pan", "tool", "scene":
		return s.handleViewMessage(ctx, c, msg.Type, decode)

	default:
		return errorEnvelope(apperr.New(apperr.CodeInvalidInput, "unknown message type "+strings.TrimSpace(msg.Type)))
	}
}

// handleViewMessage drives the connection's interaction state and replies
// with the re-rendered scene.
func (s *Server) handleViewMessage(ctx context.Context, c *wsClient, kind string, decode func(any) error) envelope {
	var p struct {
		X      float64 `json:"x"`
		Y      float64 `json:"y"`
		DeltaY float64 `json:"deltaY"`
		DX     float64 `json:"dx"`
		DY     float64 `json:"dy"`
		Tool   string  `json:"tool"`
		Width  float64 `json:"width"`
		Height float64 `json:"height"`
	}
	if err := decode(&p); err != nil {
		return errorEnvelope(err)
	}
	if !isValidPosition(p.X, p.Y) || !isValidPosition(p.DX, p.DY) || !isValidPosition(p.DeltaY, 0) {
		return errorEnvelope(apperr.New(apperr.CodeInvalidInput, "invalid position"))
	}

	v := c.view
	v.mu.Lock()
	defer v.mu.Unlock()

	point := grid.Point{X: p.X, Y: p.Y}
	var err error
	switch kind {
	case "pointerDown":
		err = v.in.PointerDown(ctx, point)
	case "pointerMove":
		v.in.PointerMove(point)
	case "pointerUp":
		err = v.in.PointerUp(ctx, point)
	case "wheel":
		v.in.Wheel(p.DeltaY, point)
	case "pan":
		v.in.Pan(p.DX, p.DY)
	case "tool":
		err = v.in.SetTool(tactical.Tool(p.Tool))
	case "scene":
		if p.Width > 0 && p.Height > 0 && isValidPosition(p.Width, p.Height) {
			v.width, v.height = p.Width, p.Height
		}
	}
	if err != nil {
		return errorEnvelope(err)
	}
	return envelope{Type: "scene", Payload: v.in.Scene(v.width, v.height)}
}

func eventEnvelope(ev realtime.Event) envelope {
	switch ev.Table {
	case realtime.TableNotices:
		return envelope{Type: "notice", Payload: ev.Record}
	case realtime.TablePresence:
		return envelope{Type: "roster", Payload: ev.Record}
	default:
		return envelope{Type: "change", Payload: ev}
	}
}

func errorEnvelope(err error) envelope {
	return envelope{Type: "error", Payload: wireError{Code: string(apperr.CodeOf(err)), Message: err.Error()}}
}

func (s *Server) joinRoster(sessionID string, conn *websocket.Conn, actor tactical.Actor) {
	s.rosterMu.Lock()
	if s.rosters[sessionID] == nil {
		s.rosters[sessionID] = make(map[*websocket.Conn]tactical.Actor)
	}
	s.rosters[sessionID][conn] = actor
	s.rosterMu.Unlock()
	s.broadcastRoster(sessionID)
}

func (s *Server) leaveRoster(sessionID string, conn *websocket.Conn) {
	s.rosterMu.Lock()
	delete(s.rosters[sessionID], conn)
	if len(s.rosters[sessionID]) == 0 {
		delete(s.rosters, sessionID)
	}
	s.rosterMu.Unlock()
	s.broadcastRoster(sessionID)
}

// broadcastRoster announces who is connected. An actor with several
// connections is listed once.
func (s *Server) broadcastRoster(sessionID string) {
	s.rosterMu.Lock()
	users := make([]tactical.Actor, 0, len(s.rosters[sessionID]))
	for _, actor := range s.rosters[sessionID] {
		if !slices.ContainsFunc(users, func(a tactical.Actor) bool { return a.ID == actor.ID }) {
			users = append(users, actor)
		}
	}
	s.rosterMu.Unlock()
	slices.SortFunc(users, func(a, b tactical.Actor) int { return strings.Compare(a.Name+a.ID, b.Name+b.ID) })

	ev, err := realtime.NewEvent(realtime.TablePresence, realtime.Update, sessionID, rosterRecord{Users: users})
	if err != nil {
		s.logger.Error("marshal roster", slog.String("error", err.Error()))
		return
	}
	s.hub.Publish(ev)
	s.logger.Info("broadcast roster", slog.String("session", sessionID), slog.Int("peers", len(users)))
}
