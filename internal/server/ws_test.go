package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tabletop/internal/apperr"
	"tabletop/internal/realtime"
	"tabletop/internal/tactical"
)

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dialSession(t *testing.T, ts *httptest.Server, sessionID, token string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + sessionID + "?token=" + token
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads messages until one of type want arrives, skipping the rest.
func readUntil(t *testing.T, conn *websocket.Conn, want string) wireMessage {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	if err := conn.SetReadDeadline(deadline); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", want, err)
		}
		if msg.Type == want {
			return msg
		}
	}
}

// readChange waits for a change event on table.
func readChange(t *testing.T, conn *websocket.Conn, table string) realtime.Event {
	t.Helper()
	for {
		msg := readUntil(t, conn, "change")
		var ev realtime.Event
		if err := json.Unmarshal(msg.Payload, &ev); err != nil {
			t.Fatalf("decode change: %v", err)
		}
		if ev.Table == table {
			return ev
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, kind string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": kind, "payload": payload}); err != nil {
		t.Fatalf("send %s: %v", kind, err)
	}
}

func TestWebsocketRequiresToken(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, t.TempDir()).Router())
	defer ts.Close()
	gm := createSession(t, ts.Config.Handler)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/" + gm.Session.ID
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != websocket.ErrBadHandshake {
		t.Fatalf("expected bad handshake, got %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestWebsocketSnapshotAndPrivacy(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, t.TempDir()).Router())
	defer ts.Close()
	router := ts.Config.Handler
	gm := createSession(t, router)
	addToken(t, router, gm, map[string]any{"name": "Orc"})
	player := joinSession(t, router, gm.Session.ID, "Sam", "")

	gmConn := dialSession(t, ts, gm.Session.ID, gm.Token)
	playerConn := dialSession(t, ts, gm.Session.ID, player.Token)

	var snapshot tactical.State
	first := readUntil(t, playerConn, "snapshot")
	if err := json.Unmarshal(first.Payload, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot.Tokens) != 1 || snapshot.Tokens[0].Label != "Orc" {
		t.Fatalf("unexpected snapshot %+v", snapshot.Tokens)
	}
	readUntil(t, gmConn, "snapshot")

	lurker := addToken(t, router, gm, map[string]any{"name": "Lurker", "visible": false})

	gmEvent := readChange(t, gmConn, realtime.TableTokens)
	var full tactical.Token
	if err := gmEvent.Decode(&full); err != nil {
		t.Fatalf("decode GM record: %v", err)
	}
	if gmEvent.Kind != realtime.Insert || full.ID != lurker.ID || full.Label != "Lurker" {
		t.Fatalf("GM should get the full record, got %s %+v", gmEvent.Kind, full)
	}

	playerEvent := readChange(t, playerConn, realtime.TableTokens)
	var tombstone tactical.Token
	if err := playerEvent.Decode(&tombstone); err != nil {
		t.Fatalf("decode tombstone: %v", err)
	}
	if playerEvent.Kind != realtime.Delete || tombstone.ID != lurker.ID || tombstone.Label != "" {
		t.Fatalf("player should only get a tombstone, got %s %+v", playerEvent.Kind, tombstone)
	}
}

func TestWebsocketRoster(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, t.TempDir()).Router())
	defer ts.Close()
	router := ts.Config.Handler
	gm := createSession(t, router)
	player := joinSession(t, router, gm.Session.ID, "Sam", "")

	gmConn := dialSession(t, ts, gm.Session.ID, gm.Token)
	readUntil(t, gmConn, "snapshot")
	dialSession(t, ts, gm.Session.ID, player.Token)

	for {
		msg := readUntil(t, gmConn, "roster")
		var roster rosterRecord
		if err := json.Unmarshal(msg.Payload, &roster); err != nil {
			t.Fatalf("decode roster: %v", err)
		}
		if len(roster.Users) == 2 {
			if roster.Users[0].Name != "Dana" || roster.Users[1].Name != "Sam" {
				t.Fatalf("unexpected roster order %+v", roster.Users)
			}
			return
		}
	}
}

func TestWebsocketCommands(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, t.TempDir()).Router())
	defer ts.Close()
	router := ts.Config.Handler
	gm := createSession(t, router)
	player := joinSession(t, router, gm.Session.ID, "Sam", "Aragorn")

	playerConn := dialSession(t, ts, gm.Session.ID, player.Token)
	readUntil(t, playerConn, "snapshot")
	gmConn := dialSession(t, ts, gm.Session.ID, gm.Token)
	readUntil(t, gmConn, "snapshot")

	t.Run("ping", func(t *testing.T) {
		send(t, playerConn, "ping", nil)
		readUntil(t, playerConn, "pong")
	})

	t.Run("move own character", func(t *testing.T) {
		send(t, playerConn, "moveToken", map[string]any{"tokenId": player.CharacterToken.ID, "x": 4, "y": 2})
		msg := readUntil(t, playerConn, "ack")
		var ack struct {
			Mutation struct {
				Status string `json:"status"`
			} `json:"mutation"`
		}
		if err := json.Unmarshal(msg.Payload, &ack); err != nil {
			t.Fatalf("decode ack: %v", err)
		}
		if ack.Mutation.Status != "committed" {
			t.Fatalf("unexpected mutation status %q", ack.Mutation.Status)
		}
	})

	t.Run("player cannot edit fog", func(t *testing.T) {
		send(t, playerConn, "toggleFog", map[string]int{"x": 1, "y": 1})
		msg := readUntil(t, playerConn, "error")
		var e wireError
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if e.Code != string(apperr.CodePermissionDenied) {
			t.Fatalf("unexpected code %q", e.Code)
		}
	})

	t.Run("unknown message", func(t *testing.T) {
		send(t, playerConn, "teleport", nil)
		msg := readUntil(t, playerConn, "error")
		var e wireError
		if err := json.Unmarshal(msg.Payload, &e); err != nil {
			t.Fatalf("decode error: %v", err)
		}
		if e.Code != string(apperr.CodeInvalidInput) {
			t.Fatalf("unexpected code %q", e.Code)
		}
	})

	t.Run("GM paints fog with the pointer", func(t *testing.T) {
		send(t, gmConn, "tool", map[string]string{"tool": "fog"})
		readUntil(t, gmConn, "scene")
		send(t, gmConn, "pointerDown", map[string]float64{"x": 475, "y": 475})
		msg := readUntil(t, gmConn, "scene")
		var scene tactical.Scene
		if err := json.Unmarshal(msg.Payload, &scene); err != nil {
			t.Fatalf("decode scene: %v", err)
		}
		if len(scene.Fog) != 1 || scene.Fog[0].Cell.Col != 9 || scene.Fog[0].Cell.Row != 9 {
			t.Fatalf("expected fog at (9,9), got %+v", scene.Fog)
		}
	})

	t.Run("players cannot pick the fog tool", func(t *testing.T) {
		send(t, playerConn, "tool", map[string]string{"tool": "fog"})
		readUntil(t, playerConn, "error")
	})

	t.Run("players measure distances", func(t *testing.T) {
		send(t, playerConn, "tool", map[string]string{"tool": "measure"})
		readUntil(t, playerConn, "scene")
		send(t, playerConn, "pointerDown", map[string]float64{"x": 10, "y": 10})
		readUntil(t, playerConn, "scene")
		send(t, playerConn, "pointerUp", map[string]float64{"x": 110, "y": 10})
		msg := readUntil(t, playerConn, "scene")
		var scene tactical.Scene
		if err := json.Unmarshal(msg.Payload, &scene); err != nil {
			t.Fatalf("decode scene: %v", err)
		}
		if scene.Measure == nil || scene.Measure.Feet != 25 {
			t.Fatalf("expected a 25ft ruler, got %+v", scene.Measure)
		}
	})
}

func TestWebsocketClosesWhenSessionDeleted(t *testing.T) {
	ts := httptest.NewServer(newTestServer(t, t.TempDir()).Router())
	defer ts.Close()
	router := ts.Config.Handler
	gm := createSession(t, router)
	player := joinSession(t, router, gm.Session.ID, "Sam", "")

	playerConn := dialSession(t, ts, gm.Session.ID, player.Token)
	readUntil(t, playerConn, "snapshot")

	expectStatus(t, doJSON(t, router, http.MethodDelete, "/sessions/"+gm.Session.ID, gm.Token, nil), http.StatusNoContent)

	ev := readChange(t, playerConn, realtime.TableSessions)
	if ev.Kind != realtime.Delete {
		t.Fatalf("expected a session removal, got %s", ev.Kind)
	}
	for {
		var msg wireMessage
		err := playerConn.ReadJSON(&msg)
		if err == nil {
			continue
		}
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("expected a normal close, got %v", err)
		}
		return
	}
}
