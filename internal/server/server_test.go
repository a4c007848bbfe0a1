package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"tabletop/internal/grid"
	"tabletop/internal/storage"
	"tabletop/internal/syncbridge"
	"tabletop/internal/tactical"
)

func newTestServer(t *testing.T, uploadDir string) *Server {
	t.Helper()
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg.UploadDir = uploadDir
	cfg.FrontendDir = uploadDir
	cfg.TokenSecret = "test-secret"
	cfg.DBPath = filepath.Join(t.TempDir(), "tabletop.db")

	store, err := storage.Open(context.Background(), cfg.DBPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	srv, err := New(cfg, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

func createSession(t *testing.T, h http.Handler) credentials {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/sessions", "", map[string]string{"name": "Crypt of Bones", "gmName": "Dana"})
	expectStatus(t, w, http.StatusCreated)
	return decodeBody[credentials](t, w)
}

func joinSession(t *testing.T, h http.Handler, sessionID, name, character string) credentials {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/sessions/"+sessionID+"/join", "", map[string]string{"name": name, "characterName": character})
	expectStatus(t, w, http.StatusCreated)
	return decodeBody[credentials](t, w)
}

func addToken(t *testing.T, h http.Handler, gm credentials, body map[string]any) tactical.Token {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/sessions/"+gm.Session.ID+"/tokens", gm.Token, body)
	expectStatus(t, w, http.StatusCreated)
	return decodeBody[tokenResponse](t, w).Token
}

func TestHealthz(t *testing.T) {
	router := newTestServer(t, t.TempDir()).Router()
	w := doJSON(t, router, http.MethodGet, "/healthz", "", nil)
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody[map[string]string](t, w)["status"]; got != "ok" {
		t.Fatalf("unexpected status %q", got)
	}
}

func TestSessionLifecycle(t *testing.T) {
	router := newTestServer(t, t.TempDir()).Router()

	gm := createSession(t, router)
	if gm.Actor.Role != tactical.RoleGM || gm.Session.CreatedBy != gm.Actor.ID {
		t.Fatalf("creator should be the GM: %+v", gm)
	}
	if gm.Session.CellSize != 50 || gm.Session.Name != "Crypt of Bones" {
		t.Fatalf("unexpected session %+v", gm.Session)
	}

	orc := addToken(t, router, gm, map[string]any{"name": "Orc", "tokenType": "monster", "x": 4, "y": 4})
	lurker := addToken(t, router, gm, map[string]any{"name": "Lurker", "x": 6, "y": 2, "visible": false})

	player := joinSession(t, router, gm.Session.ID, "Sam", "Aragorn")
	if player.CharacterToken == nil || player.CharacterToken.Kind != tactical.KindCharacter {
		t.Fatalf("expected a character token, got %+v", player.CharacterToken)
	}
	if !player.CharacterToken.OwnedBy(player.Actor.ID) {
		t.Fatal("character token should belong to the player")
	}

	view := decodeBody[sessionResponse](t, doJSON(t, router, http.MethodGet, "/sessions/"+gm.Session.ID, player.Token, nil))
	if len(view.State.Tokens) != 2 {
		t.Fatalf("player should see 2 tokens, got %+v", view.State.Tokens)
	}
	if _, ok := view.State.Token(lurker.ID); ok {
		t.Fatal("hidden token leaked to player")
	}
	if len(view.Participants) != 2 {
		t.Fatalf("expected GM and player seated, got %+v", view.Participants)
	}
	if view.Affordances.FogTool || len(view.Affordances.MovableTokenIDs) != 1 {
		t.Fatalf("unexpected player affordances %+v", view.Affordances)
	}

	gmView := decodeBody[sessionResponse](t, doJSON(t, router, http.MethodGet, "/sessions/"+gm.Session.ID, gm.Token, nil))
	if len(gmView.State.Tokens) != 3 {
		t.Fatalf("GM should see every token, got %d", len(gmView.State.Tokens))
	}

	ownPath := "/sessions/" + gm.Session.ID + "/tokens/" + player.CharacterToken.ID
	w := doJSON(t, router, http.MethodPatch, ownPath, player.Token, map[string]int{"x": 3, "y": 5})
	expectStatus(t, w, http.StatusOK)
	moved := decodeBody[tokenResponse](t, w)
	if moved.Token.Position.Col != 3 || moved.Token.Position.Row != 5 {
		t.Fatalf("unexpected position %v", moved.Token.Position)
	}
	if len(moved.Mutations) != 1 || moved.Mutations[0].Status != syncbridge.StatusCommitted {
		t.Fatalf("expected one committed mutation, got %+v", moved.Mutations)
	}

	orcPath := "/sessions/" + gm.Session.ID + "/tokens/" + orc.ID
	w = doJSON(t, router, http.MethodPatch, orcPath, player.Token, map[string]int{"x": 1, "y": 1})
	expectStatus(t, w, http.StatusForbidden)
	if code := decodeBody[errorResponse](t, w).Code; code != "PERMISSION_DENIED" {
		t.Fatalf("unexpected code %q", code)
	}

	expectStatus(t, doJSON(t, router, http.MethodPut, "/sessions/"+gm.Session.ID+"/pause", player.Token, pauseRequest{Paused: true}), http.StatusForbidden)
	expectStatus(t, doJSON(t, router, http.MethodPut, "/sessions/"+gm.Session.ID+"/pause", gm.Token, pauseRequest{Paused: true}), http.StatusOK)
	expectStatus(t, doJSON(t, router, http.MethodPatch, ownPath, player.Token, map[string]int{"x": 0, "y": 0}), http.StatusConflict)
	expectStatus(t, doJSON(t, router, http.MethodPatch, orcPath, gm.Token, map[string]int{"x": 0, "y": 0}), http.StatusConflict)
	expectStatus(t, doJSON(t, router, http.MethodPut, "/sessions/"+gm.Session.ID+"/pause", gm.Token, pauseRequest{Paused: false}), http.StatusOK)
	expectStatus(t, doJSON(t, router, http.MethodPatch, orcPath, gm.Token, map[string]int{"x": 0, "y": 0}), http.StatusOK)
}

func TestSessionRoutesRequireToken(t *testing.T) {
	router := newTestServer(t, t.TempDir()).Router()
	first := createSession(t, router)
	second := createSession(t, router)

	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{"missing token", "", http.StatusUnauthorized},
		{"garbage token", "not-a-jwt", http.StatusUnauthorized},
		{"token for another session", second.Token, http.StatusForbidden},
		{"valid token", first.Token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, router, http.MethodGet, "/sessions/"+first.Session.ID, tt.token, nil)
			expectStatus(t, w, tt.wantStatus)
		})
	}
}

func TestUnknownSessionReturnsNotFound(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	router := srv.Router()
	token, err := srv.tokens.issue("missing", tactical.Actor{ID: "u1", Role: tactical.RolePlayer})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	expectStatus(t, doJSON(t, router, http.MethodGet, "/sessions/missing", token, nil), http.StatusNotFound)
	expectStatus(t, doJSON(t, router, http.MethodPost, "/sessions/missing/join", "", map[string]string{"name": "Sam"}), http.StatusNotFound)
}

func TestJoinRules(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	srv.cfg.MaxPlayersPerSession = 1
	router := srv.Router()
	gm := createSession(t, router)
	joinPath := "/sessions/" + gm.Session.ID + "/join"

	t.Run("name is required", func(t *testing.T) {
		expectStatus(t, doJSON(t, router, http.MethodPost, joinPath, "", map[string]string{"name": "  "}), http.StatusBadRequest)
	})

	t.Run("unknown role", func(t *testing.T) {
		expectStatus(t, doJSON(t, router, http.MethodPost, joinPath, "", map[string]string{"name": "Sam", "role": "dragon"}), http.StatusBadRequest)
	})

	t.Run("non-creator cannot join as GM", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, joinPath, "", map[string]string{"name": "Bob", "role": "gm"})
		expectStatus(t, w, http.StatusForbidden)
		if msg := decodeBody[errorResponse](t, w).Error; msg != "only the session creator can join as GM" {
			t.Fatalf("unexpected message %q", msg)
		}
	})

	var player credentials
	t.Run("players cannot promote themselves", func(t *testing.T) {
		player = joinSession(t, router, gm.Session.ID, "Sam", "")
		if player.CharacterToken != nil {
			t.Fatal("no character requested, no token expected")
		}
		w := doJSON(t, router, http.MethodPost, joinPath, player.Token, map[string]string{"name": "Sam", "role": "gm"})
		expectStatus(t, w, http.StatusForbidden)
	})

	t.Run("creator can rejoin as GM", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, joinPath, gm.Token, map[string]string{"name": "Dana", "role": "gm"})
		expectStatus(t, w, http.StatusCreated)
		again := decodeBody[credentials](t, w)
		if again.Actor.ID != gm.Actor.ID || !again.Actor.IsGM() {
			t.Fatalf("expected the creator identity, got %+v", again.Actor)
		}
	})

	t.Run("session is full", func(t *testing.T) {
		expectStatus(t, doJSON(t, router, http.MethodPost, joinPath, "", map[string]string{"name": "Pip"}), http.StatusConflict)
	})

	t.Run("an unfinished join frees its seat", func(t *testing.T) {
		srv.unseat(gm.Session.ID, player.Actor.ID)
		if _, err := srv.store.GetParticipant(context.Background(), gm.Session.ID, player.Actor.ID); err == nil {
			t.Fatal("participant should be gone")
		}
		joinSession(t, router, gm.Session.ID, "Pip", "")
	})
}

func TestPixelDropSnapsToCell(t *testing.T) {
	router := newTestServer(t, t.TempDir()).Router()
	gm := createSession(t, router)
	tok := addToken(t, router, gm, map[string]any{"name": "Goblin", "px": 10.0, "py": 10.0})
	if tok.Position.Col != 0 || tok.Position.Row != 0 {
		t.Fatalf("expected origin cell, got %v", tok.Position)
	}

	w := doJSON(t, router, http.MethodPatch, "/sessions/"+gm.Session.ID+"/tokens/"+tok.ID, gm.Token, map[string]float64{"px": 130, "py": 75})
	expectStatus(t, w, http.StatusOK)
	if got := decodeBody[tokenResponse](t, w).Token.Position; got.Col != 2 || got.Row != 1 {
		t.Fatalf("expected (2,1), got %v", got)
	}

	expectStatus(t, doJSON(t, router, http.MethodPatch, "/sessions/"+gm.Session.ID+"/tokens/"+tok.ID, gm.Token, map[string]any{}), http.StatusBadRequest)
}

func TestTokenEditVisibilityAndDelete(t *testing.T) {
	router := newTestServer(t, t.TempDir()).Router()
	gm := createSession(t, router)
	player := joinSession(t, router, gm.Session.ID, "Sam", "")
	tok := addToken(t, router, gm, map[string]any{"name": "Troll", "size": 2})
	path := "/sessions/" + gm.Session.ID + "/tokens/" + tok.ID

	w := doJSON(t, router, http.MethodPatch, path, gm.Token, map[string]any{"name": "Cave Troll", "size": 3})
	expectStatus(t, w, http.StatusOK)
	edited := decodeBody[tokenResponse](t, w).Token
	if edited.Label != "Cave Troll" || edited.Size != tactical.SizeGargantuan {
		t.Fatalf("unexpected edit %+v", edited)
	}
	expectStatus(t, doJSON(t, router, http.MethodPatch, path, gm.Token, map[string]any{"size": 4}), http.StatusBadRequest)
	expectStatus(t, doJSON(t, router, http.MethodPatch, path, player.Token, map[string]any{"name": "Mine"}), http.StatusForbidden)

	expectStatus(t, doJSON(t, router, http.MethodPut, path+"/visibility", player.Token, visibilityRequest{Visible: false}), http.StatusForbidden)
	w = doJSON(t, router, http.MethodPut, path+"/visibility", gm.Token, visibilityRequest{Visible: false})
	expectStatus(t, w, http.StatusOK)
	if decodeBody[tokenResponse](t, w).Token.Visible {
		t.Fatal("token should be hidden")
	}

	expectStatus(t, doJSON(t, router, http.MethodDelete, path, player.Token, nil), http.StatusForbidden)
	expectStatus(t, doJSON(t, router, http.MethodDelete, path, gm.Token, nil), http.StatusOK)
	expectStatus(t, doJSON(t, router, http.MethodDelete, path, gm.Token, nil), http.StatusNotFound)
}

func TestPatchTokenAppliesNothingWhenRejected(t *testing.T) {
	srv := newTestServer(t, t.TempDir())
	router := srv.Router()
	gm := createSession(t, router)
	player := joinSession(t, router, gm.Session.ID, "Sam", "Aragorn")
	own := player.CharacterToken
	path := "/sessions/" + gm.Session.ID + "/tokens/" + own.ID

	positionOf := func() grid.Cell {
		t.Helper()
		sess, ok := srv.bridge.Session(gm.Session.ID)
		if !ok {
			t.Fatal("session not live")
		}
		tok, _ := sess.Token(own.ID)
		return tok.Position
	}
	start := positionOf()

	w := doJSON(t, router, http.MethodPatch, path, player.Token, map[string]any{"x": 7, "y": 7, "name": "Strider"})
	expectStatus(t, w, http.StatusForbidden)
	if got := positionOf(); got != start {
		t.Fatalf("denied patch still moved the token to %v", got)
	}

	expectStatus(t, doJSON(t, router, http.MethodPatch, path, gm.Token, map[string]any{"x": 5, "y": 5, "size": 4}), http.StatusBadRequest)
	if got := positionOf(); got != start {
		t.Fatalf("invalid patch still moved the token to %v", got)
	}
	if n := len(srv.bridge.Mutations(gm.Session.ID)); n != 1 {
		t.Fatalf("expected only the placement in the ledger, got %d", n)
	}

	w = doJSON(t, router, http.MethodPatch, path, player.Token, map[string]any{"x": 7, "y": 7})
	expectStatus(t, w, http.StatusOK)
	if got := positionOf(); got != (grid.Cell{Col: 7, Row: 7}) {
		t.Fatalf("move-only patch should apply, got %v", got)
	}
}

func TestFogEndpoints(t *testing.T) {
	router := newTestServer(t, t.TempDir()).Router()
	gm := createSession(t, router)
	player := joinSession(t, router, gm.Session.ID, "Sam", "")
	base := "/sessions/" + gm.Session.ID

	fogOf := func(token string) int {
		t.Helper()
		return len(decodeBody[sessionResponse](t, doJSON(t, router, http.MethodGet, base, token, nil)).State.Fog)
	}

	w := doJSON(t, router, http.MethodPost, base+"/fog/toggle", gm.Token, map[string]int{"x": 2, "y": 3})
	expectStatus(t, w, http.StatusOK)
	if !decodeBody[fogToggleResponse](t, w).Concealed {
		t.Fatal("first toggle should conceal")
	}
	expectStatus(t, doJSON(t, router, http.MethodPost, base+"/fog/toggle", player.Token, map[string]int{"x": 1, "y": 1}), http.StatusForbidden)
	if got := fogOf(player.Token); got != 1 {
		t.Fatalf("players see the fog too, got %d cells", got)
	}

	cells := []map[string]int{{"x": 0, "y": 0}, {"x": 0, "y": 0}, {"x": 1, "y": 0}}
	expectStatus(t, doJSON(t, router, http.MethodPut, base+"/fog", gm.Token, map[string]any{"cells": cells}), http.StatusOK)
	if got := fogOf(gm.Token); got != 2 {
		t.Fatalf("replace should de-duplicate, got %d", got)
	}

	expectStatus(t, doJSON(t, router, http.MethodPut, base+"/fog", gm.Token, map[string]any{"fill": fogFill{Cols: 4, Rows: 3}}), http.StatusOK)
	if got := fogOf(gm.Token); got != 12 {
		t.Fatalf("expected 12 cells, got %d", got)
	}
	expectStatus(t, doJSON(t, router, http.MethodPut, base+"/fog", gm.Token, map[string]any{"fill": fogFill{Cols: 1000, Rows: 1000}}), http.StatusBadRequest)

	expectStatus(t, doJSON(t, router, http.MethodDelete, base+"/fog", player.Token, nil), http.StatusForbidden)
	expectStatus(t, doJSON(t, router, http.MethodDelete, base+"/fog", gm.Token, nil), http.StatusOK)
	if got := fogOf(gm.Token); got != 0 {
		t.Fatalf("clear should empty the fog, got %d", got)
	}
}

func TestSceneHidesTokensFromPlayers(t *testing.T) {
	router := newTestServer(t, t.TempDir()).Router()
	gm := createSession(t, router)
	player := joinSession(t, router, gm.Session.ID, "Sam", "")
	addToken(t, router, gm, map[string]any{"name": "Orc"})
	addToken(t, router, gm, map[string]any{"name": "Lurker", "visible": false})
	doJSON(t, router, http.MethodPost, "/sessions/"+gm.Session.ID+"/fog/toggle", gm.Token, map[string]int{"x": 5, "y": 5})

	scenePath := "/sessions/" + gm.Session.ID + "/scene?w=400&h=300"
	playerScene := decodeBody[tactical.Scene](t, doJSON(t, router, http.MethodGet, scenePath, player.Token, nil))
	gmScene := decodeBody[tactical.Scene](t, doJSON(t, router, http.MethodGet, scenePath, gm.Token, nil))

	if len(playerScene.Tokens) != 1 || len(gmScene.Tokens) != 2 {
		t.Fatalf("player saw %d tokens, GM saw %d", len(playerScene.Tokens), len(gmScene.Tokens))
	}
	if playerScene.Fog[0].Opacity != 1 || gmScene.Fog[0].Opacity != 0.5 {
		t.Fatalf("unexpected fog opacity: player %v, GM %v", playerScene.Fog[0].Opacity, gmScene.Fog[0].Opacity)
	}
	if playerScene.Width != 400 || playerScene.Height != 300 {
		t.Fatalf("unexpected stage %vx%v", playerScene.Width, playerScene.Height)
	}
	expectStatus(t, doJSON(t, router, http.MethodGet, "/sessions/"+gm.Session.ID+"/scene?w=-1", gm.Token, nil), http.StatusBadRequest)
}

func TestBackgroundAndGrid(t *testing.T) {
	router := newTestServer(t, t.TempDir()).Router()
	gm := createSession(t, router)
	base := "/sessions/" + gm.Session.ID

	w := doJSON(t, router, http.MethodPost, "/maps", gm.Token, createMapRequest{Name: "Crypt", ImageURL: "https://example.com/crypt.png"})
	expectStatus(t, w, http.StatusCreated)
	m := decodeBody[storage.Map](t, w)

	w = doJSON(t, router, http.MethodPut, base+"/background", gm.Token, backgroundRequest{MapID: m.ID})
	expectStatus(t, w, http.StatusOK)
	if info := decodeBody[infoResponse](t, w).Session; info.BackgroundURL != m.ImageURL || info.MapID != m.ID {
		t.Fatalf("background not applied: %+v", info)
	}
	expectStatus(t, doJSON(t, router, http.MethodPut, base+"/background", gm.Token, backgroundRequest{MapID: "missing"}), http.StatusNotFound)

	w = doJSON(t, router, http.MethodPut, base+"/grid", gm.Token, gridRequest{CellSize: 70, Shape: "hex"})
	expectStatus(t, w, http.StatusOK)
	if info := decodeBody[infoResponse](t, w).Session; info.CellSize != 70 || info.Shape != "hex" {
		t.Fatalf("grid not applied: %+v", info)
	}
	expectStatus(t, doJSON(t, router, http.MethodPut, base+"/grid", gm.Token, gridRequest{CellSize: 5}), http.StatusBadRequest)
	expectStatus(t, doJSON(t, router, http.MethodPut, base+"/grid", gm.Token, gridRequest{CellSize: 50, Shape: "octagon"}), http.StatusBadRequest)
}

func TestMutationLedgerEndpoints(t *testing.T) {
	router := newTestServer(t, t.TempDir()).Router()
	gm := createSession(t, router)
	player := joinSession(t, router, gm.Session.ID, "Sam", "")
	base := "/sessions/" + gm.Session.ID
	addToken(t, router, gm, map[string]any{"name": "Orc"})

	expectStatus(t, doJSON(t, router, http.MethodGet, base+"/mutations", player.Token, nil), http.StatusForbidden)
	w := doJSON(t, router, http.MethodGet, base+"/mutations", gm.Token, nil)
	expectStatus(t, w, http.StatusOK)
	mutations := decodeBody[[]syncbridge.Mutation](t, w)
	if len(mutations) != 1 || mutations[0].Op != syncbridge.OpTokenUpsert || mutations[0].Status != syncbridge.StatusCommitted {
		t.Fatalf("unexpected ledger %+v", mutations)
	}

	expectStatus(t, doJSON(t, router, http.MethodPost, base+"/mutations/"+mutations[0].ID+"/retry", gm.Token, nil), http.StatusConflict)
	expectStatus(t, doJSON(t, router, http.MethodPost, base+"/mutations/unknown/retry", gm.Token, nil), http.StatusNotFound)
	expectStatus(t, doJSON(t, router, http.MethodPost, base+"/mutations/"+mutations[0].ID+"/retry", player.Token, nil), http.StatusForbidden)

	w = doJSON(t, router, http.MethodGet, base+"/mutations?status=failed", gm.Token, nil)
	expectStatus(t, w, http.StatusOK)
	if failed := decodeBody[[]syncbridge.Mutation](t, w); failed == nil || len(failed) != 0 {
		t.Fatalf("expected an empty failed list, got %+v", failed)
	}
	expectStatus(t, doJSON(t, router, http.MethodGet, base+"/mutations?status=lost", gm.Token, nil), http.StatusBadRequest)
}

func TestDeleteSessionEndpoint(t *testing.T) {
	router := newTestServer(t, t.TempDir()).Router()
	gm := createSession(t, router)
	player := joinSession(t, router, gm.Session.ID, "Sam", "Aragorn")
	base := "/sessions/" + gm.Session.ID

	expectStatus(t, doJSON(t, router, http.MethodDelete, base, player.Token, nil), http.StatusForbidden)
	expectStatus(t, doJSON(t, router, http.MethodDelete, base, gm.Token, nil), http.StatusNoContent)
	expectStatus(t, doJSON(t, router, http.MethodGet, base, gm.Token, nil), http.StatusNotFound)
	expectStatus(t, doJSON(t, router, http.MethodDelete, base, gm.Token, nil), http.StatusNotFound)
}

func TestSPAFallback(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>map</html>"), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}
	router := newTestServer(t, dir).Router()

	w := doJSON(t, router, http.MethodGet, "/table/abc", "", nil)
	expectStatus(t, w, http.StatusOK)
	if !bytes.Contains(w.Body.Bytes(), []byte("map")) {
		t.Fatalf("expected index.html, got %q", w.Body.String())
	}
}
