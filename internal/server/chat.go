package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"tabletop/internal/apperr"
	"tabletop/internal/dice"
	"tabletop/internal/realtime"
	"tabletop/internal/storage"
	"tabletop/internal/tactical"
)

const (
	maxMessageLength = 2000
	maxListLimit     = 200
)

// rollSpec is what to roll: a formula, or a d20 with advantage or disadvantage.
type rollSpec struct {
	formula  string
	mode     string
	modifier int
}

func (r rollSpec) roll(rng dice.Roller) (string, dice.Result, error) {
	switch r.mode {
	case "":
		res, err := dice.RollString(r.formula, rng)
		if err != nil {
			return "", dice.Result{}, err
		}
		return res.Formula.String(), res, nil
	case "advantage", "disadvantage":
		if r.modifier > dice.MaxModifier || r.modifier < -dice.MaxModifier {
			return "", dice.Result{}, apperr.New(apperr.CodeInvalidInput, "modifier out of range")
		}
		pick := dice.Advantage
		if r.mode == "disadvantage" {
			pick = dice.Disadvantage
		}
		res := pick(r.modifier, rng)
		return fmt.Sprintf("%s %s", dice.Formula{Count: 1, Sides: 20, Modifier: r.modifier}, r.mode), res, nil
	default:
		return "", dice.Result{}, apperr.New(apperr.CodeInvalidInput, fmt.Sprintf("unknown roll mode %q", r.mode))
	}
}

// parseRollCommand recognises "/roll <formula>" and "/r <formula>". The
// argument may also be "adv" or "dis" with an optional signed modifier.
func parseRollCommand(content string) (rollSpec, bool) {
	fields := strings.Fields(content)
	if len(fields) < 2 || (fields[0] != "/roll" && fields[0] != "/r") {
		return rollSpec{}, false
	}
	arg := strings.ToLower(strings.Join(fields[1:], ""))
	for _, mode := range []string{"advantage", "disadvantage"} {
		rest, ok := strings.CutPrefix(arg, mode)
		if !ok {
			rest, ok = strings.CutPrefix(arg, mode[:3])
		}
		if !ok {
			continue
		}
		if rest == "" {
			return rollSpec{mode: mode}, true
		}
		if mod, err := strconv.Atoi(rest); err == nil {
			return rollSpec{mode: mode, modifier: mod}, true
		}
	}
	return rollSpec{formula: arg}, true
}

// recordRoll rolls, stores and announces a roll. Hidden rolls only reach the
// roller and the GM.
func (s *Server) recordRoll(ctx context.Context, info tactical.Info, actor tactical.Actor, spec rollSpec, visibleToAll bool) (storage.DiceRoll, error) {
	formula, res, err := spec.roll(s.roller)
	if err != nil {
		return storage.DiceRoll{}, err
	}
	roll, err := s.store.InsertDiceRoll(ctx, storage.DiceRoll{
		SessionID:    info.ID,
		UserID:       actor.ID,
		Formula:      formula,
		Result:       res.Total,
		Details:      res.Details,
		VisibleToAll: visibleToAll,
	})
	if err != nil {
		return storage.DiceRoll{}, apperr.Wrap(apperr.CodePersistence, "save roll", err)
	}

	ev, err := realtime.NewEvent(realtime.TableRolls, realtime.Insert, info.ID, roll)
	if err != nil {
		return roll, err
	}
	if !visibleToAll {
		ev.Audience = []string{actor.ID, info.CreatedBy}
	}
	s.hub.Publish(ev)
	s.logger.Info("dice rolled", slog.String("session", info.ID), slog.String("formula", formula), slog.Int("total", res.Total))
	return roll, nil
}

func (s *Server) handleRoll(w http.ResponseWriter, r *http.Request) {
	var req rollRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	visible := true
	if req.VisibleToAll != nil {
		visible = *req.VisibleToAll
	}
	spec := rollSpec{formula: req.Formula, mode: strings.ToLower(strings.TrimSpace(req.Mode)), modifier: req.Modifier}
	roll, err := s.recordRoll(r.Context(), sess.Info(), actorFromContext(r.Context()), spec, visible)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, roll)
}

func listLimit(r *http.Request) int {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		return 0
	}
	return min(limit, maxListLimit)
}

func (s *Server) handleListRolls(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	rolls, err := s.store.ListDiceRolls(r.Context(), r.PathValue("id"), listLimit(r))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	rolls = slices.DeleteFunc(rolls, func(roll storage.DiceRoll) bool {
		return !roll.VisibleToAll && !actor.IsGM() && roll.UserID != actor.ID
	})
	writeJSON(w, http.StatusOK, rolls)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "message is empty")
		return
	}
	if utf8.RuneCountInString(content) > maxMessageLength {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("message must be %d characters or less", maxMessageLength))
		return
	}
	sess, ok := s.loadSession(w, r)
	if !ok {
		return
	}
	info := sess.Info()
	actor := actorFromContext(r.Context())

	msg := storage.ChatMessage{
		TableID:  info.ID,
		UserID:   actor.ID,
		Content:  content,
		Type:     storage.MessageText,
		Metadata: map[string]any{"sender_name": actor.Name},
	}
	var (
		resp     messageResponse
		audience []string
	)
	recipient := strings.TrimSpace(req.Recipient)
	if spec, isRoll := parseRollCommand(content); isRoll {
		roll, err := s.recordRoll(r.Context(), info, actor, spec, true)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		msg.Type = storage.MessageDice
		msg.Metadata["roll_id"] = roll.ID
		msg.Metadata["formula"] = roll.Formula
		msg.Metadata["total"] = roll.Result
		msg.Metadata["details"] = roll.Details
		resp.Roll = &roll
	} else if recipient != "" {
		to, err := s.store.GetParticipant(r.Context(), info.ID, recipient)
		if err != nil {
			s.writeAppError(w, err)
			return
		}
		msg.Type = storage.MessagePrivate
		msg.Metadata["recipient"] = to.UserID
		msg.Metadata["recipient_name"] = to.Name
		audience = []string{actor.ID, recipient, info.CreatedBy}
	}

	saved, err := s.store.InsertChatMessage(r.Context(), msg)
	if err != nil {
		s.writeAppError(w, apperr.Wrap(apperr.CodePersistence, "save message", err))
		return
	}
	ev, err := realtime.NewEvent(realtime.TableChat, realtime.Insert, info.ID, saved)
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	ev.Audience = audience
	s.hub.Publish(ev)

	resp.Message = saved
	writeJSON(w, http.StatusCreated, resp)
}

// canRead reports whether actor may see msg. Private messages are limited to
// sender, recipient and GM.
func canRead(actor tactical.Actor, msg storage.ChatMessage) bool {
	if msg.Type != storage.MessagePrivate || actor.IsGM() || msg.UserID == actor.ID {
		return true
	}
	recipient, _ := msg.Metadata["recipient"].(string)
	return recipient == actor.ID
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	actor := actorFromContext(r.Context())
	messages, err := s.store.ListChatMessages(r.Context(), r.PathValue("id"), listLimit(r))
	if err != nil {
		s.writeAppError(w, err)
		return
	}
	messages = slices.DeleteFunc(messages, func(m storage.ChatMessage) bool { return !canRead(actor, m) })
	writeJSON(w, http.StatusOK, messages)
}
