package server

import (
	"math"
	"net/http"

	"tabletop/internal/grid"
	"tabletop/internal/syncbridge"
	"tabletop/internal/tactical"
)

const maxFogCells = 10000

// isValidPosition reports whether a pixel coordinate is a finite number.
func isValidPosition(x, y float64) bool {
	return !math.IsNaN(x) && !math.IsNaN(y) && !math.IsInf(x, 0) && !math.IsInf(y, 0)
}

// requestCell resolves a cell given directly or as a pixel snapped onto the
// grid. ok is false when neither form is complete; valid is false for
// non-finite pixels.
func requestCell(x, y *int, px, py *float64, cellSize float64) (cell grid.Cell, ok, valid bool) {
	switch {
	case x != nil && y != nil:
		return grid.Cell{Col: *x, Row: *y}, true, true
	case px != nil && py != nil:
		if !isValidPosition(*px, *py) {
			return grid.Cell{}, true, false
		}
		return grid.Snap(grid.Point{X: *px, Y: *py}, cellSize), true, true
	}
	return grid.Cell{}, false, true
}

func (s *Server) handleAddToken(w http.ResponseWriter, r *http.Request) {
	var req addTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	at, _, valid := requestCell(req.X, req.Y, req.PX, req.PY, sess.Info().CellSize)
	if !valid {
		writeError(w, http.StatusBadRequest, "invalid position")
		return
	}

	actor := actorFromContext(r.Context())
	tok, m, err := s.bridge.AddToken(r.Context(), sess.ID(), actor, tactical.TokenDraft{
		Label:       req.Name,
		Kind:        tactical.TokenKind(req.TokenType),
		Color:       req.Color,
		Size:        tactical.TokenSize(req.Size),
		Position:    at,
		Visible:     req.Visible,
		OwnerID:     req.UserID,
		CharacterID: req.CharacterID,
	})
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, mutationStatus(http.StatusCreated, m), tokenResponse{Token: tok, Mutations: []syncbridge.Mutation{m}})
}

// handlePatchToken moves a token and/or edits it. The whole request is
// checked before any part is applied, so a denied edit never leaves a move
// behind. A player may still drag their own character with a move-only patch.
func (s *Server) handlePatchToken(w http.ResponseWriter, r *http.Request) {
	var req patchTokenRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	to, move, valid := requestCell(req.X, req.Y, req.PX, req.PY, sess.Info().CellSize)
	if !valid {
		writeError(w, http.StatusBadRequest, "invalid position")
		return
	}
	edit := req.Name != nil || req.Color != nil || req.Size != nil
	if !move && !edit {
		writeError(w, http.StatusBadRequest, "nothing to change")
		return
	}

	actor := actorFromContext(r.Context())
	tokenID := r.PathValue("tid")
	patch := tactical.TokenPatch{Label: req.Name, Color: req.Color}
	if req.Size != nil {
		size := tactical.TokenSize(*req.Size)
		patch.Size = &size
	}
	if edit {
		if err := tactical.Authorize(actor, tactical.ActionEditToken, sess.Info().Paused, nil); err != nil {
			s.writeAppError(w, err)
			return
		}
		if err := patch.Validate(); err != nil {
			s.writeAppError(w, err)
			return
		}
	}

	resp := tokenResponse{Mutations: []syncbridge.Mutation{}}
	status := http.StatusOK
	if move {
		tok, m, err := s.bridge.MoveToken(r.Context(), sess.ID(), actor, tokenID, to)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		resp.Token = tok
		resp.Mutations = append(resp.Mutations, m)
		status = mutationStatus(status, m)
	}
	if edit {
		tok, m, err := s.bridge.UpdateToken(r.Context(), sess.ID(), actor, tokenID, patch)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		resp.Token = tok
		resp.Mutations = append(resp.Mutations, m)
		status = mutationStatus(status, m)
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleVisibility(w http.ResponseWriter, r *http.Request) {
	var req visibilityRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	actor := actorFromContext(r.Context())
	tok, m, err := s.bridge.SetVisibility(r.Context(), r.PathValue("id"), actor, r.PathValue("tid"), req.Visible)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, mutationStatus(http.StatusOK, m), tokenResponse{Token: tok, Mutations: []syncbridge.Mutation{m}})
}

func (s *Server) handleDeleteToken(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	m, err := s.bridge.DeleteToken(r.Context(), r.PathValue("id"), actor, r.PathValue("tid"))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, mutationStatus(http.StatusOK, m), m)
}

func (s *Server) handleToggleFog(w http.ResponseWriter, r *http.Request) {
	var c grid.Cell
	if !decodeJSON(w, r, &c) {
		return
	}
	actor := actorFromContext(r.Context())
	concealed, m, err := s.bridge.ToggleFog(r.Context(), r.PathValue("id"), actor, c)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, mutationStatus(http.StatusOK, m), fogToggleResponse{Concealed: concealed, Mutation: m})
}

// handleReplaceFog sets the concealed cells wholesale, or covers a
// cols x rows rectangle when fill is given.
func (s *Server) handleReplaceFog(w http.ResponseWriter, r *http.Request) {
	var req replaceFogRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Cells) > maxFogCells || (req.Fill != nil && req.Fill.Rows > 0 && req.Fill.Cols > maxFogCells/req.Fill.Rows) {
		writeError(w, http.StatusBadRequest, "too many fog cells")
		return
	}

	actor := actorFromContext(r.Context())
	var (
		m   syncbridge.Mutation
		err error
	)
	if req.Fill != nil {
		m, err = s.bridge.FillFog(r.Context(), r.PathValue("id"), actor, req.Fill.Cols, req.Fill.Rows)
	} else {
		m, err = s.bridge.ReplaceFog(r.Context(), r.PathValue("id"), actor, req.Cells)
	}
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, mutationStatus(http.StatusOK, m), m)
}

func (s *Server) handleClearFog(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	m, err := s.bridge.ClearFog(r.Context(), r.PathValue("id"), actor)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, mutationStatus(http.StatusOK, m), m)
}
