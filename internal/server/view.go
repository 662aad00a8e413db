package server

import (
	"github.com/jpotter-25/GolfScorekeeper-sub002/engine"
	"github.com/jpotter-25/GolfScorekeeper-sub002/internal/protocol"
)

// cardCode renders a card for the wire: rank plus suit initial ("Ah",
// "10s", "Kc").
func cardCode(c engine.Card) string {
	if c == engine.EmptyCard {
		return ""
	}
	return c.RankString() + c.SuitString()[:1]
}

// buildGameView projects the authoritative engine state for one viewer
// seat. Face-down cards are hidden from everyone, the owner included; the
// pending drawn card is visible only to its drawer unless it came off the
// discard pile, where everyone already saw it.
func buildGameView(code string, g *engine.GameState, seats []string, viewer int8) protocol.GameStateView {
	view := protocol.GameStateView{
		Code:          code,
		Phase:         g.Phase.String(),
		Round:         g.Round,
		CurrentPlayer: g.CurrentPlayer,
		ExtraTurn:     g.ExtraTurn,
		StockCount:    g.StockLen,
		DiscardTop:    cardCode(g.DiscardTop()),
		Seats:         make([]protocol.SeatView, len(seats)),
	}

	if g.Pending.Active && (g.Pending.FromDiscard || int8(g.Pending.Player) == viewer) {
		view.DrawnCard = cardCode(g.Pending.Card)
	}

	for seat, userID := range seats {
		ps := &g.Players[seat]
		sv := protocol.SeatView{
			UserID:     userID,
			Connected:  ps.Connected,
			RoundScore: ps.RoundScore,
			TotalScore: ps.TotalScore,
		}
		for i, gc := range ps.Grid {
			cell := protocol.CellView{Revealed: gc.Revealed, Cleared: gc.Cleared}
			if gc.Revealed || gc.Cleared {
				cell.Card = cardCode(gc.Card)
			}
			sv.Grid[i] = cell
		}
		view.Seats[seat] = sv
	}
	return view
}
