// Package syncbridge keeps the map sessions held in memory in step with
// storage and with every actor following them. Accepted mutations are
// persisted and announced on the change feed; persistence failures leave the
// local state as it is and are recorded so they can be retried.
package syncbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tabletop/internal/apperr"
	"tabletop/internal/grid"
	"tabletop/internal/realtime"
	"tabletop/internal/tactical"
	"tabletop/internal/telemetry"
)

// Store is the persistence the bridge writes through to.
type Store interface {
	CreateSession(ctx context.Context, info tactical.Info) error
	GetSession(ctx context.Context, id string) (tactical.Info, error)
	UpdateSession(ctx context.Context, info tactical.Info) error
	DeleteSession(ctx context.Context, id string) error
	ListTokens(ctx context.Context, sessionID string) ([]tactical.Token, error)
	UpsertToken(ctx context.Context, tok tactical.Token) error
	DeleteToken(ctx context.Context, sessionID, tokenID string) error
	LoadFog(ctx context.Context, sessionID string) ([]grid.Cell, error)
	SaveFog(ctx context.Context, sessionID string, cells []grid.Cell) error
}

// Publisher receives change events, typically a *realtime.Hub.
type Publisher interface {
	Publish(ev realtime.Event)
}

// Notice is a transient message for one actor.
type Notice struct {
	Level      string `json:"level"`
	Message    string `json:"message"`
	MutationID string `json:"mutationId,omitempty"`
}

// Notifier delivers notices to actors.
type Notifier interface {
	Notify(sessionID, actorID string, n Notice)
}

// FogRecord is the fog row as carried on the change feed.
type FogRecord struct {
	SessionID     string      `json:"session_id"`
	GridPositions []grid.Cell `json:"grid_positions"`
	IsRevealed    bool        `json:"is_revealed"`
}

// feedNotifier sends notices over the change feed to a single actor.
type feedNotifier struct {
	pub    Publisher
	logger *slog.Logger
}

func (f feedNotifier) Notify(sessionID, actorID string, n Notice) {
	ev, err := realtime.NewEvent(realtime.TableNotices, realtime.Insert, sessionID, n)
	if err != nil {
		f.logger.Error("encode notice", slog.String("error", err.Error()))
		return
	}
	ev.Audience = []string{actorID}
	f.pub.Publish(ev)
}

// Bridge owns the live sessions and writes their changes through.
type Bridge struct {
	store    Store
	pub      Publisher
	notifier Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	ledger   *Ledger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*tactical.Session
	writers  map[string]*sync.Mutex
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithNotifier replaces the default notifier, which uses the change feed.
func WithNotifier(n Notifier) Option {
	return func(b *Bridge) { b.notifier = n }
}

// New constructs a bridge over store that announces changes on pub.
func New(store Store, pub Publisher, logger *slog.Logger, opts ...Option) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		store:    store,
		pub:      pub,
		logger:   logger,
		tracer:   telemetry.Tracer("syncbridge"),
		ledger:   NewLedger(),
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*tactical.Session),
		writers:  make(map[string]*sync.Mutex),
	}
	b.notifier = feedNotifier{pub: pub, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Create persists a new session and starts tracking it.
func (b *Bridge) Create(ctx context.Context, info tactical.Info) (*tactical.Session, error) {
	if info.ID == "" {
		info.ID = uuid.NewString()
	}
	s := tactical.NewSession(info)
	if err := b.store.CreateSession(ctx, s.Info()); err != nil {
		return nil, apperr.Wrap(apperr.CodePersistence, "create session", err)
	}
	b.mu.Lock()
	b.sessions[info.ID] = s
	b.mu.Unlock()
	return s, nil
}

// Load returns the live session, restoring it from storage on first use.
func (b *Bridge) Load(ctx context.Context, id string) (*tactical.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s, ok := b.sessions[id]; ok {
		return s, nil
	}

	ctx, span := b.tracer.Start(ctx, "syncbridge.Load", trace.WithAttributes(attribute.String("session.id", id)))
	defer span.End()

	info, err := b.store.GetSession(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	tokens, err := b.store.ListTokens(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load tokens: %w", err)
	}
	fog, err := b.store.LoadFog(ctx, id)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("load fog: %w", err)
	}
	s := tactical.Restore(info, tokens, fog)
	b.sessions[id] = s
	b.logger.Info("session loaded", slog.String("session", id),
		slog.Int("tokens", len(tokens)), slog.Int("fog", len(fog)))
	return s, nil
}

// Session returns a session that is already live.
func (b *Bridge) Session(id string) (*tactical.Session, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[id]
	return s, ok
}

// DeleteSession removes a session from storage, stops tracking it and tells
// every follower it is gone. Only the GM who created it may do so.
func (b *Bridge) DeleteSession(ctx context.Context, sessionID string, actor tactical.Actor) error {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return err
	}
	info := s.Info()
	if err := tactical.Authorize(actor, tactical.ActionDeleteSession, info.Paused, nil); err != nil {
		return err
	}
	if actor.ID != info.CreatedBy {
		return apperr.New(apperr.CodePermissionDenied, "only the session creator can delete it")
	}

	w := b.writer(sessionID)
	w.Lock()
	defer w.Unlock()
	if err := b.store.DeleteSession(ctx, sessionID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return apperr.Wrap(apperr.CodePersistence, "delete session", err)
	}
	b.evict(sessionID)
	b.logger.Info("session deleted", slog.String("session", sessionID))
	return b.publish(realtime.NewEvent(realtime.TableSessions, realtime.Delete, sessionID, info))
}

// evict stops tracking a session. Later calls to Load read it again.
func (b *Bridge) evict(id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
	b.ledger.drop(id)
}

// Mutations returns the recorded mutations of a session, oldest first.
func (b *Bridge) Mutations(sessionID string) []Mutation {
	return b.ledger.List(sessionID)
}

// FailedMutations returns the mutations of a session that are waiting for a
// retry.
func (b *Bridge) FailedMutations(sessionID string) []Mutation {
	return b.ledger.Failed(sessionID)
}

// AddToken places a token.
func (b *Bridge) AddToken(ctx context.Context, sessionID string, actor tactical.Actor, draft tactical.TokenDraft) (tactical.Token, Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return tactical.Token{}, Mutation{}, err
	}
	tok, err := s.AddToken(actor, draft)
	if err != nil {
		return tactical.Token{}, Mutation{}, err
	}
	m := b.commit(ctx, s, actor, OpTokenUpsert, tok.ID, b.syncToken(s, tok.ID, realtime.Insert))
	return tok, m, nil
}

// AddParticipantToken places the character token of a participant.
func (b *Bridge) AddParticipantToken(ctx context.Context, sessionID string, actor tactical.Actor, p tactical.Participant, at grid.Cell) (tactical.Token, Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return tactical.Token{}, Mutation{}, err
	}
	tok, err := s.AddParticipantToken(actor, p, at)
	if err != nil {
		return tactical.Token{}, Mutation{}, err
	}
	m := b.commit(ctx, s, actor, OpTokenUpsert, tok.ID, b.syncToken(s, tok.ID, realtime.Insert))
	return tok, m, nil
}

// MoveToken relocates a token.
func (b *Bridge) MoveToken(ctx context.Context, sessionID string, actor tactical.Actor, tokenID string, to grid.Cell) (tactical.Token, Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return tactical.Token{}, Mutation{}, err
	}
	tok, err := s.MoveToken(actor, tokenID, to)
	if err != nil {
		return tactical.Token{}, Mutation{}, err
	}
	m := b.commit(ctx, s, actor, OpTokenUpsert, tok.ID, b.syncToken(s, tok.ID, realtime.Update))
	return tok, m, nil
}

// SetVisibility shows or hides a token from players.
func (b *Bridge) SetVisibility(ctx context.Context, sessionID string, actor tactical.Actor, tokenID string, visible bool) (tactical.Token, Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return tactical.Token{}, Mutation{}, err
	}
	tok, err := s.SetVisibility(actor, tokenID, visible)
	if err != nil {
		return tactical.Token{}, Mutation{}, err
	}
	m := b.commit(ctx, s, actor, OpTokenUpsert, tok.ID, b.syncToken(s, tok.ID, realtime.Update))
	return tok, m, nil
}

// UpdateToken edits a token's label, color or size.
func (b *Bridge) UpdateToken(ctx context.Context, sessionID string, actor tactical.Actor, tokenID string, patch tactical.TokenPatch) (tactical.Token, Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return tactical.Token{}, Mutation{}, err
	}
	tok, err := s.UpdateToken(actor, tokenID, patch)
	if err != nil {
		return tactical.Token{}, Mutation{}, err
	}
	m := b.commit(ctx, s, actor, OpTokenUpsert, tok.ID, b.syncToken(s, tok.ID, realtime.Update))
	return tok, m, nil
}

// DeleteToken removes a token.
func (b *Bridge) DeleteToken(ctx context.Context, sessionID string, actor tactical.Actor, tokenID string) (Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return Mutation{}, err
	}
	tok, err := s.DeleteToken(actor, tokenID)
	if err != nil {
		return Mutation{}, err
	}
	return b.commit(ctx, s, actor, OpTokenDelete, tok.ID, b.removeToken(s, tok)), nil
}

// ToggleFog flips one cell and reports whether it is now concealed.
func (b *Bridge) ToggleFog(ctx context.Context, sessionID string, actor tactical.Actor, c grid.Cell) (bool, Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return false, Mutation{}, err
	}
	concealed, err := s.ToggleFog(actor, c)
	if err != nil {
		return false, Mutation{}, err
	}
	return concealed, b.commit(ctx, s, actor, OpFogSave, c.String(), b.syncFog(s)), nil
}

// ClearFog reveals the whole map.
func (b *Bridge) ClearFog(ctx context.Context, sessionID string, actor tactical.Actor) (Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return Mutation{}, err
	}
	if err := s.ClearFog(actor); err != nil {
		return Mutation{}, err
	}
	return b.commit(ctx, s, actor, OpFogSave, "", b.syncFog(s)), nil
}

// ReplaceFog sets the concealed cells wholesale.
func (b *Bridge) ReplaceFog(ctx context.Context, sessionID string, actor tactical.Actor, cells []grid.Cell) (Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return Mutation{}, err
	}
	if err := s.ReplaceFog(actor, cells); err != nil {
		return Mutation{}, err
	}
	return b.commit(ctx, s, actor, OpFogSave, "", b.syncFog(s)), nil
}

// FillFog conceals a cols x rows rectangle from the origin.
func (b *Bridge) FillFog(ctx context.Context, sessionID string, actor tactical.Actor, cols, rows int) (Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return Mutation{}, err
	}
	if err := s.FillFog(actor, cols, rows); err != nil {
		return Mutation{}, err
	}
	return b.commit(ctx, s, actor, OpFogSave, "", b.syncFog(s)), nil
}

// SetPaused freezes or unfreezes token movement.
func (b *Bridge) SetPaused(ctx context.Context, sessionID string, actor tactical.Actor, paused bool) (tactical.Info, Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return tactical.Info{}, Mutation{}, err
	}
	info, err := s.SetPaused(actor, paused)
	if err != nil {
		return tactical.Info{}, Mutation{}, err
	}
	return info, b.commit(ctx, s, actor, OpSessionUpdate, "paused", b.syncInfo(s)), nil
}

// SetBackground switches the map image.
func (b *Bridge) SetBackground(ctx context.Context, sessionID string, actor tactical.Actor, mapID, imageURL string) (tactical.Info, Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return tactical.Info{}, Mutation{}, err
	}
	info, err := s.SetBackground(actor, mapID, imageURL)
	if err != nil {
		return tactical.Info{}, Mutation{}, err
	}
	return info, b.commit(ctx, s, actor, OpSessionUpdate, "background", b.syncInfo(s)), nil
}

// SetGrid changes cell size and grid shape.
func (b *Bridge) SetGrid(ctx context.Context, sessionID string, actor tactical.Actor, cellSize float64, shape grid.Shape) (tactical.Info, Mutation, error) {
	s, err := b.Load(ctx, sessionID)
	if err != nil {
		return tactical.Info{}, Mutation{}, err
	}
	info, err := s.SetGrid(actor, cellSize, shape)
	if err != nil {
		return tactical.Info{}, Mutation{}, err
	}
	return info, b.commit(ctx, s, actor, OpSessionUpdate, "grid", b.syncInfo(s)), nil
}

// Retry writes a failed mutation again using the session's current state.
func (b *Bridge) Retry(ctx context.Context, mutationID string) (Mutation, error) {
	e, ok := b.ledger.get(mutationID)
	if !ok {
		return Mutation{}, apperr.New(apperr.CodeNotFound, fmt.Sprintf("mutation %s not found", mutationID))
	}
	if !b.ledger.reopen(e) {
		return Mutation{}, apperr.New(apperr.CodeConflict, fmt.Sprintf("mutation %s is not failed", mutationID))
	}
	return b.execute(ctx, e), nil
}

// Dispatcher binds the bridge to one session for the interaction layer.
func (b *Bridge) Dispatcher(sessionID string) tactical.Dispatcher {
	return dispatcher{bridge: b, sessionID: sessionID}
}

type dispatcher struct {
	bridge    *Bridge
	sessionID string
}

func (d dispatcher) MoveToken(ctx context.Context, actor tactical.Actor, tokenID string, to grid.Cell) error {
	_, _, err := d.bridge.MoveToken(ctx, d.sessionID, actor, tokenID, to)
	return err
}

func (d dispatcher) ToggleFog(ctx context.Context, actor tactical.Actor, c grid.Cell) error {
	_, _, err := d.bridge.ToggleFog(ctx, d.sessionID, actor, c)
	return err
}

func (b *Bridge) commit(ctx context.Context, s *tactical.Session, actor tactical.Actor, op Op, target string, run func(context.Context) error) Mutation {
	e := b.ledger.add(Mutation{
		ID:        uuid.NewString(),
		SessionID: s.ID(),
		ActorID:   actor.ID,
		Op:        op,
		Target:    target,
		Status:    StatusPending,
		At:        b.now(),
	}, run)
	return b.execute(ctx, e)
}

// writer returns the lock that orders write-throughs of one session.
func (b *Bridge) writer(sessionID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.writers[sessionID]
	if !ok {
		w = &sync.Mutex{}
		b.writers[sessionID] = w
	}
	return w
}

// execute runs a write-through. Runs of one session are serialized and each
// reads the live state under the lock, so the last write to reach storage and
// the feed always carries the latest applied state.
func (b *Bridge) execute(ctx context.Context, e *entry) Mutation {
	w := b.writer(e.SessionID)
	w.Lock()
	defer w.Unlock()

	ctx, span := b.tracer.Start(ctx, "syncbridge."+string(e.Op), trace.WithAttributes(
		attribute.String("session.id", e.SessionID),
		attribute.String("mutation.id", e.ID),
	))
	defer span.End()

	err := e.run(ctx)
	m := b.ledger.finish(e, err)
	if err == nil {
		return m
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	b.logger.Error("persist mutation",
		slog.String("session", m.SessionID),
		slog.String("mutation", m.ID),
		slog.String("op", string(m.Op)),
		slog.Int("attempts", m.Attempts),
		slog.String("error", err.Error()))
	b.notifier.Notify(m.SessionID, m.ActorID, Notice{
		Level:      "error",
		Message:    "Your change could not be saved. It is only visible until the page is reloaded.",
		MutationID: m.ID,
	})
	return m
}

// syncToken writes the current value of a token and announces it. A token
// deleted in the meantime has nothing left to write.
func (b *Bridge) syncToken(s *tactical.Session, tokenID string, kind realtime.Kind) func(context.Context) error {
	return func(ctx context.Context) error {
		tok, ok := s.Token(tokenID)
		if !ok {
			return nil
		}
		if err := b.store.UpsertToken(ctx, tok); err != nil {
			return err
		}
		return b.publishToken(s.Info(), kind, tok)
	}
}

func (b *Bridge) removeToken(s *tactical.Session, tok tactical.Token) func(context.Context) error {
	return func(ctx context.Context) error {
		if _, ok := s.Token(tok.ID); ok {
			return nil
		}
		err := b.store.DeleteToken(ctx, tok.SessionID, tok.ID)
		if err != nil && !errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return b.publishToken(s.Info(), realtime.Delete, tok)
	}
}

// publishToken announces a token change. Players never receive a hidden
// token: they are told it is gone while the GM gets the full record.
func (b *Bridge) publishToken(info tactical.Info, kind realtime.Kind, tok tactical.Token) error {
	tombstone := tactical.Token{ID: tok.ID, SessionID: tok.SessionID}
	if kind == realtime.Delete {
		return b.publish(realtime.NewEvent(realtime.TableTokens, realtime.Delete, info.ID, tombstone))
	}
	if tok.Visible {
		return b.publish(realtime.NewEvent(realtime.TableTokens, kind, info.ID, tok))
	}

	full, err := realtime.NewEvent(realtime.TableTokens, kind, info.ID, tok)
	if err != nil {
		return err
	}
	full.Audience = []string{info.CreatedBy}
	b.pub.Publish(full)

	gone, err := realtime.NewEvent(realtime.TableTokens, realtime.Delete, info.ID, tombstone)
	if err != nil {
		return err
	}
	gone.Except = []string{info.CreatedBy}
	b.pub.Publish(gone)
	return nil
}

func (b *Bridge) syncFog(s *tactical.Session) func(context.Context) error {
	return func(ctx context.Context) error {
		cells := s.Fog()
		if err := b.store.SaveFog(ctx, s.ID(), cells); err != nil {
			return err
		}
		return b.publish(realtime.NewEvent(realtime.TableFog, realtime.Update, s.ID(), FogRecord{
			SessionID:     s.ID(),
			GridPositions: cells,
			IsRevealed:    len(cells) == 0,
		}))
	}
}

func (b *Bridge) syncInfo(s *tactical.Session) func(context.Context) error {
	return func(ctx context.Context) error {
		info := s.Info()
		if err := b.store.UpdateSession(ctx, info); err != nil {
			return err
		}
		return b.publish(realtime.NewEvent(realtime.TableSessions, realtime.Update, info.ID, info))
	}
}

func (b *Bridge) publish(ev realtime.Event, err error) error {
	if err != nil {
		return err
	}
	b.pub.Publish(ev)
	return nil
}
