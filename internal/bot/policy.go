// Package bot implements the heuristic opponent for solo play.
//
// Every decision function consumes only the public engine state a human
// player could see; the policy never inspects face-down cards. Moves are
// issued through the same exported engine operations a human uses, so the
// engine has exactly one move-ingestion path regardless of player kind.
package bot

import (
	"github.com/jpotter-25/GolfScorekeeper-sub002/engine"
)

// Policy holds the bot's private randomness. Seeding it makes a solo game
// fully reproducible alongside the engine's own seed.
type Policy struct {
	rng uint64
}

// New returns a Policy seeded with the given value.
func New(seed uint64) *Policy {
	if seed == 0 {
		seed = 1 // xorshift can't start at 0
	}
	return &Policy{rng: seed}
}

func (p *Policy) nextRand() uint64 {
	x := p.rng
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	p.rng = x
	return x
}

// randN returns a random number in [0, n).
func (p *Policy) randN(n uint64) uint64 {
	return p.nextRand() % n
}

// goodValue reports whether a known card is worth taking from the discard
// pile: Kings and Aces (value <= 1) and Fives (value -5).
func goodValue(v int8) bool {
	return v <= 1 || v == -5
}

// FindBestGridPosition scans the revealed cells for the one the candidate
// value improves the most: among cells whose current value exceeds the
// candidate, the numerically largest wins. When none qualifies and the
// candidate is very good, the first face-down cell (in index order) is the
// fallback. Returns -1 when there is no worthwhile target.
func FindBestGridPosition(ps *engine.PlayerState, candidate int8) int8 {
	best := int8(-1)
	var bestValue int8
	for i := uint8(0); i < engine.GridSize; i++ {
		gc := ps.Grid[i]
		if !gc.Revealed || gc.Cleared {
			continue
		}
		if v := gc.Card.Value(); v > candidate && (best < 0 || v > bestValue) {
			best = int8(i)
			bestValue = v
		}
	}
	if best >= 0 {
		return best
	}
	if goodValue(candidate) {
		for i := uint8(0); i < engine.GridSize; i++ {
			gc := ps.Grid[i]
			if !gc.Revealed && !gc.Cleared {
				return int8(i)
			}
		}
	}
	return -1
}

// PlacementDecision decides whether to keep a blind-drawn card against the
// chosen cell. A face-down cell accepts any card of value 4 or better
// (which covers Kings, Aces, and Fives); a face-up cell accepts only a
// strict improvement.
func PlacementDecision(drawn engine.Card, cell engine.GridCard) bool {
	v := drawn.Value()
	if !cell.Revealed {
		return v == 0 || v == 1 || v == -5 || v <= 4
	}
	return v < cell.Card.Value()
}

// SelectGridPosition picks the target cell for a blind-drawn card: the most
// improvable revealed cell when one exists; otherwise a random face-down
// cell when the draw is favorable, or a random non-cleared cell when it is
// not (the card will be discarded, revealing that cell).
func (p *Policy) SelectGridPosition(ps *engine.PlayerState, drawn engine.Card) uint8 {
	v := drawn.Value()
	if best := FindBestGridPosition(ps, v); best >= 0 && ps.Grid[best].Revealed {
		return uint8(best)
	}

	favorable := v <= 4 || v == -5 || v == 0
	var pool [engine.GridSize]uint8
	n := 0
	for i := uint8(0); i < engine.GridSize; i++ {
		gc := ps.Grid[i]
		if gc.Cleared {
			continue
		}
		if favorable && gc.Revealed {
			continue
		}
		pool[n] = i
		n++
	}
	if n == 0 {
		// Favorable draw but no face-down cells left: fall back to any
		// non-cleared cell.
		for i := uint8(0); i < engine.GridSize; i++ {
			if !ps.Grid[i].Cleared {
				pool[n] = i
				n++
			}
		}
	}
	return pool[p.randN(uint64(n))]
}

// PeekCells chooses the two cells to reveal during the peek phase,
// uniformly at random among the face-down cells without replacement.
func (p *Policy) PeekCells(ps *engine.PlayerState) (uint8, uint8) {
	var pool [engine.GridSize]uint8
	n := 0
	for i := uint8(0); i < engine.GridSize; i++ {
		if !ps.Grid[i].Revealed && !ps.Grid[i].Cleared {
			pool[n] = i
			n++
		}
	}
	a := p.randN(uint64(n))
	b := p.randN(uint64(n - 1))
	if b >= a {
		b++
	}
	return pool[a], pool[b]
}

// chooseDraw decides the draw source for the seat's turn. On a bonus turn
// the discard top has already been judged (or was just produced by the
// player's own swap), so the draw is always blind. Otherwise the discard
// top is taken only when it is a good card with a worthwhile target.
func (p *Policy) chooseDraw(g *engine.GameState, seat uint8) (fromDiscard bool, target int8) {
	if g.ExtraTurn {
		return false, -1
	}
	top := g.DiscardTop()
	if top == engine.EmptyCard || !goodValue(top.Value()) {
		return false, -1
	}
	if t := FindBestGridPosition(&g.Players[seat], top.Value()); t >= 0 {
		return true, t
	}
	return false, -1
}

// TakeTurn plays one complete turn (or one peek) for the seat. During the
// peek phase it reveals two random cells; during the turn loop it draws,
// picks a target, and resolves, exactly as a human submission would.
func (p *Policy) TakeTurn(g *engine.GameState, seat uint8) error {
	if g.Phase == engine.PhasePeeking {
		a, b := p.PeekCells(&g.Players[seat])
		return g.Peek(seat, a, b)
	}

	if fromDiscard, target := p.chooseDraw(g, seat); fromDiscard {
		if err := g.DrawDiscard(seat); err != nil {
			return err
		}
		// The target either improves strictly or fills a face-down cell,
		// so the drawn card is always kept.
		return g.Resolve(seat, uint8(target), true)
	}

	if err := g.DrawStock(seat); err != nil {
		return err
	}
	drawn, _ := g.DrawnCard()
	cell := p.SelectGridPosition(&g.Players[seat], drawn)
	keep := PlacementDecision(drawn, g.Players[seat].Grid[cell])
	return g.Resolve(seat, cell, keep)
}
