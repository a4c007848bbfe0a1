package tactical

import (
	"testing"

	"tabletop/internal/grid"
)

func TestRenderHidesInvisibleTokensFromPlayers(t *testing.T) {
	s := newTestSession(t)
	visible, _ := s.AddToken(gm, TokenDraft{Label: "goblin", Position: grid.Cell{Col: 1, Row: 2}})
	hidden, _ := s.AddToken(gm, TokenDraft{Label: "Lurker", Visible: boolPtr(false)})

	player := Render(s.Snapshot(), alice, 500, 500)
	if len(player.Tokens) != 1 || player.Tokens[0].TokenID != visible.ID {
		t.Fatalf("player should only see the visible token, got %+v", player.Tokens)
	}
	sprite := player.Tokens[0]
	if sprite.Label != "GO" {
		t.Fatalf("expected two-letter label, got %q", sprite.Label)
	}
	if sprite.Center != (grid.Point{X: 75, Y: 125}) || sprite.Radius != 25 {
		t.Fatalf("unexpected sprite geometry %+v", sprite)
	}

	master := Render(s.Snapshot(), gm, 500, 500)
	if len(master.Tokens) != 2 {
		t.Fatalf("gm should see both tokens, got %d", len(master.Tokens))
	}
	if !master.Tokens[1].Hidden || master.Tokens[1].TokenID != hidden.ID {
		t.Fatalf("hidden token should be flagged for the gm: %+v", master.Tokens[1])
	}
}

func TestRenderFogOpacityAndAffordances(t *testing.T) {
	s := newTestSession(t)
	_, _ = s.ToggleFog(gm, grid.Cell{Col: 2, Row: 2})

	player := Render(s.Snapshot(), alice, 200, 200)
	if len(player.Fog) != 1 || player.Fog[0].Opacity != 1 {
		t.Fatalf("player fog should be opaque: %+v", player.Fog)
	}
	if player.Fog[0].Origin != (grid.Point{X: 100, Y: 100}) {
		t.Fatalf("unexpected fog origin %v", player.Fog[0].Origin)
	}
	if player.Affordances.FogTool || player.Affordances.CreateToken || player.Affordances.DeleteToken {
		t.Fatalf("player must not get GM affordances: %+v", player.Affordances)
	}

	master := Render(s.Snapshot(), gm, 200, 200)
	if master.Fog[0].Opacity >= 1 {
		t.Fatal("gm fog should be translucent")
	}
	if !master.Affordances.FogTool || !master.Affordances.CreateToken || !master.Affordances.Pause {
		t.Fatalf("gm should get GM affordances: %+v", master.Affordances)
	}
}

func TestRenderGridShapes(t *testing.T) {
	s := newTestSession(t)
	square := Render(s.Snapshot(), gm, 100, 100)
	if len(square.GridLines) != 6 || square.GridDots != nil {
		t.Fatalf("square grid: %d lines, %d dots", len(square.GridLines), len(square.GridDots))
	}
	if _, err := s.SetGrid(gm, 50, grid.ShapeHex); err != nil {
		t.Fatal(err)
	}
	hex := Render(s.Snapshot(), gm, 100, 100)
	if len(hex.GridDots) == 0 || hex.GridLines != nil {
		t.Fatalf("hex grid: %d lines, %d dots", len(hex.GridLines), len(hex.GridDots))
	}
}

func TestAffordancesMovableTokens(t *testing.T) {
	s := newTestSession(t)
	own := addCharacter(t, s, alice, grid.Cell{})
	addCharacter(t, s, bob, grid.Cell{Col: 1})

	aff := AffordancesFor(alice, s.Snapshot())
	if len(aff.MovableTokenIDs) != 1 || aff.MovableTokenIDs[0] != own.ID {
		t.Fatalf("alice should only move her own token: %v", aff.MovableTokenIDs)
	}
	_, _ = s.SetPaused(gm, true)
	if aff := AffordancesFor(gm, s.Snapshot()); len(aff.MovableTokenIDs) != 0 {
		t.Fatalf("nothing is movable while paused: %v", aff.MovableTokenIDs)
	}
}

func TestShortLabel(t *testing.T) {
	for in, want := range map[string]string{"": "", "a": "A", "Ælfric": "ÆL", " orc ": "OR"} {
		if got := shortLabel(in); got != want {
			t.Fatalf("shortLabel(%q) = %q, want %q", in, got, want)
		}
	}
}
