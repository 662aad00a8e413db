package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by engine operations. Callers match with
// errors.Is; the wrapped message carries the specifics.
var (
	ErrInvalidPlayerCount = errors.New("invalid player count")
	ErrWrongPhase         = errors.New("operation not valid in this phase")
	ErrOutOfTurn          = errors.New("not this player's turn")
	ErrIllegalMove        = errors.New("illegal move")
	// ErrDeckExhausted indicates both piles emptied at once. Given the fixed
	// 52-card domain and the conservation invariant this cannot happen in a
	// legal game; treat it as fatal and abort the round.
	ErrDeckExhausted = errors.New("draw and discard piles are both exhausted")
)

func errPlayerCount(n uint8) error {
	return fmt.Errorf("%w: %d (need 2-%d)", ErrInvalidPlayerCount, n, MaxPlayers)
}

func errWrongPhase(op string, p Phase) error {
	return fmt.Errorf("%w: %s during %s", ErrWrongPhase, op, p)
}

// ---------------------------------------------------------------------------
// Peek phase
// ---------------------------------------------------------------------------

// Peek reveals two of the player's own face-down cells during the peek
// phase. Each player peeks exactly once; when every player has peeked the
// phase advances to the turn loop.
func (g *GameState) Peek(player, a, b uint8) error {
	if g.Phase != PhasePeeking {
		return errWrongPhase("Peek", g.Phase)
	}
	if player >= g.Rules.numPlayers() {
		return fmt.Errorf("%w: no such player %d", ErrIllegalMove, player)
	}
	if g.HasPeeked(player) {
		return fmt.Errorf("%w: player %d already peeked", ErrIllegalMove, player)
	}
	if a >= GridSize || b >= GridSize || a == b {
		return fmt.Errorf("%w: peek cells %d, %d", ErrIllegalMove, a, b)
	}
	grid := &g.Players[player].Grid
	if grid[a].Revealed || grid[b].Revealed {
		return fmt.Errorf("%w: peek target already revealed", ErrIllegalMove)
	}

	grid[a].Revealed = true
	grid[b].Revealed = true
	g.peeked[player] = 2

	g.maybeFinishPeeking()
	return nil
}

// maybeFinishPeeking advances to the turn loop once every connected player
// has completed their peek. Disconnected seats are waived so a mid-peek
// drop never stalls the phase; a seat that reconnects afterwards simply
// plays with its cells still hidden.
func (g *GameState) maybeFinishPeeking() {
	for p := uint8(0); p < g.Rules.numPlayers(); p++ {
		if g.Players[p].Connected && !g.HasPeeked(p) {
			return
		}
	}
	g.Phase = PhaseTurn
	if !g.Players[g.CurrentPlayer].Connected {
		g.CurrentPlayer = g.nextConnected(g.CurrentPlayer)
	}
}

// ---------------------------------------------------------------------------
// Turn loop: draw, resolve, advance
// ---------------------------------------------------------------------------

// DrawStock draws a blind card from the draw pile for the current player.
// An empty draw pile is first rebuilt by reshuffling the discard pile,
// keeping its face-up top card aside.
func (g *GameState) DrawStock(player uint8) error {
	if err := g.checkDraw(player); err != nil {
		return err
	}
	if g.StockLen == 0 {
		g.reshuffleDiscard()
	}
	if g.StockLen == 0 {
		return ErrDeckExhausted
	}

	g.StockLen--
	g.Pending = PendingDraw{Active: true, Player: player, Card: g.Stockpile[g.StockLen]}
	return nil
}

// DrawDiscard takes the face-up top card of the discard pile for the
// current player.
func (g *GameState) DrawDiscard(player uint8) error {
	if err := g.checkDraw(player); err != nil {
		return err
	}
	if g.DiscardLen == 0 {
		return fmt.Errorf("%w: discard pile is empty", ErrIllegalMove)
	}

	g.DiscardLen--
	g.Pending = PendingDraw{Active: true, Player: player, Card: g.DiscardPile[g.DiscardLen], FromDiscard: true}
	return nil
}

func (g *GameState) checkDraw(player uint8) error {
	if g.Phase != PhaseTurn {
		return errWrongPhase("draw", g.Phase)
	}
	if player != g.CurrentPlayer {
		return fmt.Errorf("%w: player %d acted, player %d to move", ErrOutOfTurn, player, g.CurrentPlayer)
	}
	if g.Pending.Active {
		return fmt.Errorf("%w: a card is already drawn", ErrIllegalMove)
	}
	return nil
}

// Resolve places the pending drawn card against the chosen cell.
//
// Unrevealed target: keep swaps the drawn card in (revealing the cell, old
// hidden card to discard); !keep discards the drawn card unseen and reveals
// the cell unchanged. Revealed target: keep is legal only when the drawn
// value is strictly lower than the cell's; !keep discards the drawn card
// and changes nothing. A cleared cell is never a legal target.
//
// After a swap the swapped cell's column is checked for three revealed
// cells of identical rank; a match clears the column and grants the same
// player one extra turn before rotation resumes.
func (g *GameState) Resolve(player, cell uint8, keep bool) error {
	if g.Phase != PhaseTurn {
		return errWrongPhase("Resolve", g.Phase)
	}
	if !g.Pending.Active || g.Pending.Player != player {
		return fmt.Errorf("%w: no pending drawn card for player %d", ErrIllegalMove, player)
	}
	if cell >= GridSize {
		return fmt.Errorf("%w: cell %d out of range", ErrIllegalMove, cell)
	}
	gc := &g.Players[player].Grid[cell]
	if gc.Cleared {
		return fmt.Errorf("%w: cell %d was cleared", ErrIllegalMove, cell)
	}

	drawn := g.Pending.Card
	swapped := false

	switch {
	case !gc.Revealed && keep:
		// Swap in: old hidden card to the discard pile, cell revealed.
		g.DiscardPile[g.DiscardLen] = gc.Card
		g.DiscardLen++
		gc.Card = drawn
		gc.Revealed = true
		swapped = true
	case !gc.Revealed && !keep:
		// Discard the drawn card unseen; the cell flips face-up unchanged.
		g.DiscardPile[g.DiscardLen] = drawn
		g.DiscardLen++
		gc.Revealed = true
	case gc.Revealed && keep:
		if drawn.Value() >= gc.Card.Value() {
			// Rejected without mutating state; the pending draw stands.
			return fmt.Errorf("%w: drawn %s does not improve on %s", ErrIllegalMove, drawn, gc.Card)
		}
		g.DiscardPile[g.DiscardLen] = gc.Card
		g.DiscardLen++
		gc.Card = drawn
		swapped = true
	default: // revealed target, discard the drawn card
		g.DiscardPile[g.DiscardLen] = drawn
		g.DiscardLen++
	}

	g.Pending = PendingDraw{}

	clearedNow := false
	if swapped {
		clearedNow = g.checkColumnClear(player, ColumnOf(cell))
	}

	// Round-end trigger: first fully revealed grid starts the final lap.
	if g.FinalTrigger < 0 && g.Players[player].AllRevealed() {
		g.FinalTrigger = int8(player)
	}

	if clearedNow && g.Players[player].HasTargetableCell() {
		// Same player acts again; the flag is consumed by this turn's
		// completion, never re-checked recursively. A grid with every cell
		// cleared has no legal target left, so no bonus turn is owed.
		g.ExtraTurn = true
		return nil
	}
	g.ExtraTurn = false
	g.advanceTurn()
	return nil
}

// checkColumnClear zeroes the column if its three cells are revealed and
// share a rank. Returns true when a clear happened.
func (g *GameState) checkColumnClear(player, col uint8) bool {
	cells := ColumnCells(col)
	grid := &g.Players[player].Grid
	rank := grid[cells[0]].Card.Rank()
	for _, c := range cells {
		gc := grid[c]
		if !gc.Revealed || gc.Cleared || gc.Card.Rank() != rank {
			return false
		}
	}
	for _, c := range cells {
		grid[c].Cleared = true
	}
	return true
}

// advanceTurn rotates to the next connected player, tracking final-lap
// turns once a trigger exists. The round ends when every other connected
// player has taken exactly one turn after the trigger.
func (g *GameState) advanceTurn() {
	if g.FinalTrigger < 0 {
		g.CurrentPlayer = g.nextConnected(g.CurrentPlayer)
		return
	}

	trigger := uint8(g.FinalTrigger)
	if g.CurrentPlayer != trigger {
		g.finalLapTaken |= 1 << g.CurrentPlayer
	}

	// Next connected player, in seating order, who still owes a final-lap
	// turn. The trigger player does not act again this round.
	n := g.Rules.numPlayers()
	for i := uint8(1); i <= n; i++ {
		cand := (g.CurrentPlayer + i) % n
		if cand == trigger || !g.Players[cand].Connected {
			continue
		}
		if !g.TookFinalLapTurn(cand) {
			g.CurrentPlayer = cand
			return
		}
	}
	g.finishRound()
}

// finishRound scores every grid, accumulates totals, and ends the round.
func (g *GameState) finishRound() {
	for p := uint8(0); p < g.Rules.numPlayers(); p++ {
		g.Players[p].RoundScore = g.Players[p].GridScore()
		g.Players[p].TotalScore += g.Players[p].RoundScore
	}
	if g.Round+1 >= g.Rules.rounds() {
		g.Phase = PhaseFinished
	} else {
		g.Phase = PhaseRoundEnd
	}
}

// reshuffleDiscard rebuilds the draw pile from the discard pile, keeping
// the current face-up top card aside. No card count change results.
func (g *GameState) reshuffleDiscard() {
	// Need at least 2 cards in discard (one stays, rest become the stock).
	if g.DiscardLen <= 1 {
		return
	}

	topCard := g.DiscardPile[g.DiscardLen-1]
	count := g.DiscardLen - 1
	for i := uint8(0); i < count; i++ {
		g.Stockpile[i] = g.DiscardPile[i]
	}
	g.StockLen = count

	g.DiscardPile[0] = topCard
	g.DiscardLen = 1

	// Fisher-Yates over the rebuilt stock.
	for i := int(g.StockLen) - 1; i > 0; i-- {
		j := int(g.randN(uint64(i + 1)))
		g.Stockpile[i], g.Stockpile[j] = g.Stockpile[j], g.Stockpile[i]
	}
}
