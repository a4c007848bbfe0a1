package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"tabletop/internal/grid"
	"tabletop/internal/syncbridge"
	"tabletop/internal/tactical"
)

const (
	maxNameLength      = 100
	defaultStageWidth  = 1200.0
	defaultStageHeight = 800.0
	freeCellScanLimit  = 100
)

// cleanName trims name and applies fallback when it is empty. ok is false
// when the name is too long.
func cleanName(name, fallback string) (string, bool) {
	name = strings.TrimSpace(name)
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", false
	}
	if name == "" {
		name = fallback
	}
	return name, true
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	name, ok := cleanName(req.Name, "Untitled")
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("session name must be %d characters or less", maxNameLength))
		return
	}
	gmName, ok := cleanName(req.GMName, "Game Master")
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("name must be %d characters or less", maxNameLength))
		return
	}
	shape, err := grid.ParseShape(req.GridShape)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cellSize := req.CellSize
	if cellSize == 0 {
		cellSize = s.cfg.DefaultCellSize
	}
	if cellSize < tactical.MinCellSize || cellSize > tactical.MaxCellSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("cell size must be between %g and %g", tactical.MinCellSize, tactical.MaxCellSize))
		return
	}

	gm := tactical.Actor{ID: uuid.NewString(), Name: gmName, Role: tactical.RoleGM}
	sess, err := s.bridge.Create(r.Context(), tactical.Info{
		Name:      name,
		CreatedBy: gm.ID,
		CellSize:  cellSize,
		Shape:     shape,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	info := sess.Info()
	if err := s.store.AddParticipant(r.Context(), info.ID, tactical.Participant{UserID: gm.ID, Name: gm.Name, Role: tactical.RoleGM}); err != nil {
		s.writeAppError(w, err)
		return
	}

	token, err := s.tokens.issue(info.ID, gm)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	s.logger.Info("session created", slog.String("session", info.ID), slog.String("name", info.Name))
	writeJSON(w, http.StatusCreated, credentials{Session: info, Actor: gm, Token: token})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	participants, err := s.store.ListParticipants(r.Context(), sess.ID())
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if participants == nil {
		participants = []tactical.Participant{}
	}
	state := sess.Snapshot().VisibleTo(actor)
	writeJSON(w, http.StatusOK, sessionResponse{
		State:        state,
		Participants: participants,
		Online:       s.hub.Peers(sess.ID()),
		Affordances:  tactical.AffordancesFor(actor, state),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	if err := s.bridge.DeleteSession(r.Context(), r.PathValue("id"), actor); err != nil {
		s.writeAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleJoin seats a new actor. Players get a fresh identity; only the
// session creator, proving it with their token, can join as GM.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	var req joinRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	info := sess.Info()

	role, err := tactical.ParseRole(req.Role)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	name, ok := cleanName(req.Name, "")
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("name must be %d characters or less", maxNameLength))
		return
	}
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	if role == tactical.RoleGM {
		s.rejoinAsGM(w, r, info, name)
		return
	}

	participants, err := s.store.ListParticipants(r.Context(), info.ID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	players := 0
	for _, p := range participants {
		if p.Role == tactical.RolePlayer {
			players++
		}
	}
	if players >= s.cfg.MaxPlayersPerSession {
		writeError(w, http.StatusConflict, "session is full")
		return
	}

	actor := tactical.Actor{ID: uuid.NewString(), Name: name, Role: tactical.RolePlayer}
	participant := tactical.Participant{
		UserID:        actor.ID,
		Name:          name,
		Role:          tactical.RolePlayer,
		CharacterID:   req.CharacterID,
		CharacterName: strings.TrimSpace(req.CharacterName),
		Color:         strings.TrimSpace(req.Color),
	}
	if err := s.store.AddParticipant(r.Context(), info.ID, participant); err != nil {
		s.writeAppError(w, err)
		return
	}
	seated := false
	defer func() {
		if !seated {
			s.unseat(info.ID, actor.ID)
		}
	}()

	resp := credentials{Session: info, Actor: actor}
	resp.Token, err = s.tokens.issue(info.ID, actor)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	if participant.CharacterName != "" || participant.CharacterID != nil {
		// The character token is placed on the GM's behalf.
		gm := tactical.Actor{ID: info.CreatedBy, Role: tactical.RoleGM}
		tok, _, err := s.bridge.AddParticipantToken(r.Context(), info.ID, gm, participant, freeCell(sess.Snapshot()))
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		resp.CharacterToken = &tok
	}
	seated = true
	s.logger.Info("player joined", slog.String("session", info.ID), slog.String("actor", actor.ID))
	writeJSON(w, http.StatusCreated, resp)
}

// unseat removes a participant whose join did not complete, so the seat is
// not counted against the player limit.
func (s *Server) unseat(sessionID, userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.RemoveParticipant(ctx, sessionID, userID); err != nil {
		s.logger.Error("remove participant", slog.String("session", sessionID), slog.String("user", userID), slog.String("error", err.Error()))
	}
}

func (s *Server) rejoinAsGM(w http.ResponseWriter, r *http.Request, info tactical.Info, name string) {
	raw := parseToken(r.Header.Get("Authorization"))
	sessionID, current, err := s.tokens.verify(raw)
	if raw == "" || err != nil || sessionID != info.ID || current.ID != info.CreatedBy {
		writeError(w, http.StatusForbidden, "only the session creator can join as GM")
		return
	}
	gm := tactical.Actor{ID: info.CreatedBy, Name: name, Role: tactical.RoleGM}
	if err := s.store.AddParticipant(r.Context(), info.ID, tactical.Participant{UserID: gm.ID, Name: name, Role: tactical.RoleGM}); err != nil {
		s.writeAppError(w, err)
		return
	}
	token, err := s.tokens.issue(info.ID, gm)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, credentials{Session: info, Actor: gm, Token: token})
}

// freeCell returns the first unoccupied cell in row-major order.
func freeCell(state tactical.State) grid.Cell {
	taken := make(map[grid.Cell]bool, len(state.Tokens))
	for _, t := range state.Tokens {
		taken[t.Position] = true
	}
	for row := 0; row < freeCellScanLimit; row++ {
		for col := 0; col < freeCellScanLimit; col++ {
			c := grid.Cell{Col: col, Row: row}
			if !taken[c] {
				return c
			}
		}
	}
	return grid.Cell{}
}

func (s *Server) handleScene(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	width, ok := stageDimension(r.URL.Query().Get("w"), defaultStageWidth)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid width")
		return
	}
	height, ok := stageDimension(r.URL.Query().Get("h"), defaultStageHeight)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid height")
		return
	}
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, tactical.Render(sess.Snapshot(), actor, width, height))
}

func stageDimension(raw string, fallback float64) (float64, bool) {
	if raw == "" {
		return fallback, true
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !isValidPosition(v, 0) || v <= 0 || v > 10000 {
		return 0, false
	}
	return v, true
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor := actorFromContext(r.Context())
	info, m, err := s.bridge.SetPaused(r.Context(), r.PathValue("id"), actor, req.Paused)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, mutationStatus(http.StatusOK, m), infoResponse{Session: info, Mutation: m})
}

// handleBackground switches to one of the uploaded maps; an empty mapId
// clears the background.
func (s *Server) handleBackground(w http.ResponseWriter, r *http.Request) {
	var req backgroundRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor := actorFromContext(r.Context())
	var mapID, imageURL string
	if req.MapID != "" {
		m, err := s.store.GetMap(r.Context(), req.MapID)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		mapID, imageURL = m.ID, m.ImageURL
	}
	info, m, err := s.bridge.SetBackground(r.Context(), r.PathValue("id"), actor, mapID, imageURL)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, mutationStatus(http.StatusOK, m), infoResponse{Session: info, Mutation: m})
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	var req gridRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	shape, err := grid.ParseShape(req.Shape)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	actor := actorFromContext(r.Context())
	info, m, err := s.bridge.SetGrid(r.Context(), r.PathValue("id"), actor, req.CellSize, shape)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, mutationStatus(http.StatusOK, m), infoResponse{Session: info, Mutation: m})
}

// handleMutations lists the session's recent mutations. ?status=failed keeps
// only those waiting for a retry.
func (s *Server) handleMutations(w http.ResponseWriter, r *http.Request) {
	if !actorFromContext(r.Context()).IsGM() {
		writeError(w, http.StatusForbidden, "only the GM can inspect pending changes")
		return
	}
	sessionID := r.PathValue("id")
	switch status := r.URL.Query().Get("status"); status {
	case "":
		writeJSON(w, http.StatusOK, s.bridge.Mutations(sessionID))
	case string(syncbridge.StatusFailed):
		writeJSON(w, http.StatusOK, s.bridge.FailedMutations(sessionID))
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported status filter %q", status))
	}
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if !actorFromContext(r.Context()).IsGM() {
		writeError(w, http.StatusForbidden, "only the GM can retry changes")
		return
	}
	mutationID := r.PathValue("mid")
	found := false
	for _, m := range s.bridge.Mutations(r.PathValue("id")) {
		if m.ID == mutationID {
			found = true
			break
		}
	}
	if !found {
		writeError(w, http.StatusNotFound, "mutation not found")
		return
	}
	m, err := s.bridge.Retry(r.Context(), mutationID)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, mutationStatus(http.StatusOK, m), m)
}
