package engine

const (
	MaxPlayers = 4
	DeckSize   = 52
)

// Phase identifies where a round is in its lifecycle.
type Phase uint8

const (
	PhaseDealing  Phase = iota // deck built, cards not yet dealt
	PhasePeeking               // players revealing their initial cells
	PhaseTurn                  // main turn loop
	PhaseRoundEnd              // round scored, awaiting NextRound
	PhaseFinished              // all configured rounds played
)

var phaseNames = [5]string{"dealing", "peeking", "turn", "roundEnd", "finished"}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "unknown"
}

// PendingDraw holds the card a player has drawn but not yet placed.
type PendingDraw struct {
	Active      bool
	Player      uint8
	Card        Card
	FromDiscard bool
}

// GameState holds the complete, self-contained state of a Golf 9 game.
// It is a flat value type (no pointers, no slices) so snapshots and undo
// are plain struct copies.
type GameState struct {
	Players       [MaxPlayers]PlayerState
	Stockpile     [DeckSize]Card
	StockLen      uint8
	DiscardPile   [DeckSize]Card
	DiscardLen    uint8
	CurrentPlayer uint8
	Phase         Phase
	Round         uint8 // 0-based index of the round in progress
	ExtraTurn     bool  // true while the current player is on a bonus turn
	FinalTrigger  int8  // player who first revealed all 9 cells; -1 until then
	Pending       PendingDraw
	RNG           uint64
	Rules         Rules

	finalLapTaken uint8             // bitmask of players who took their final-lap turn
	peeked        [MaxPlayers]uint8 // cells revealed by each player during the peek phase
}

// ---------------------------------------------------------------------------
// xorshift64 RNG, inline, no interface
// ---------------------------------------------------------------------------

func (g *GameState) nextRand() uint64 {
	x := g.RNG
	x ^= x << 13
	x ^= x >> 7
	x ^= x << 17
	g.RNG = x
	return x
}

// randN returns a random number in [0, n).
func (g *GameState) randN(n uint64) uint64 {
	return g.nextRand() % n
}

// ---------------------------------------------------------------------------
// NewGame and Deal
// ---------------------------------------------------------------------------

// NewGame initializes a new GameState with the given seed and rules.
// The deck is built but not yet shuffled or dealt; all active seats start
// connected.
func NewGame(seed uint64, rules Rules) GameState {
	var g GameState
	g.RNG = seed
	if g.RNG == 0 {
		g.RNG = 1 // xorshift can't start at 0
	}
	g.Rules = rules
	g.FinalTrigger = -1
	g.Phase = PhaseDealing

	g.buildDeck()

	for p := uint8(0); p < rules.numPlayers() && p < MaxPlayers; p++ {
		g.Players[p].Connected = true
	}
	return g
}

// buildDeck fills the stockpile with the ordered 52-card deck.
func (g *GameState) buildDeck() {
	idx := 0
	for suit := uint8(0); suit < 4; suit++ {
		for rank := uint8(0); rank <= RankKing; rank++ {
			g.Stockpile[idx] = NewCard(suit, rank)
			idx++
		}
	}
	g.StockLen = DeckSize
	g.DiscardLen = 0
}

// Deal shuffles the deck, deals 9 face-down cards to each player's grid in
// fixed cell order, and flips one card to start the discard pile. The phase
// advances to peeking and a random starting player is chosen.
func (g *GameState) Deal() error {
	if g.Phase != PhaseDealing {
		return errWrongPhase("Deal", g.Phase)
	}
	n := g.Rules.numPlayers()
	if n < 2 || n > MaxPlayers {
		return errPlayerCount(n)
	}

	// Fisher-Yates shuffle.
	for i := int(g.StockLen) - 1; i > 0; i-- {
		j := int(g.randN(uint64(i + 1)))
		g.Stockpile[i], g.Stockpile[j] = g.Stockpile[j], g.Stockpile[i]
	}

	// Deal grids: one card per player per cell, in fixed cell order.
	for cell := uint8(0); cell < GridSize; cell++ {
		for p := uint8(0); p < n; p++ {
			g.StockLen--
			g.Players[p].Grid[cell] = GridCard{Card: g.Stockpile[g.StockLen]}
		}
	}

	// Flip top stockpile card to start the discard pile.
	g.StockLen--
	g.DiscardPile[0] = g.Stockpile[g.StockLen]
	g.DiscardLen = 1

	// Pick random starting player among connected seats.
	g.CurrentPlayer = uint8(g.randN(uint64(n)))
	if !g.Players[g.CurrentPlayer].Connected {
		g.CurrentPlayer = g.nextConnected(g.CurrentPlayer)
	}

	g.Phase = PhasePeeking
	return nil
}

// NextRound resets grids and piles, re-deals, and begins the next round.
// Valid only from PhaseRoundEnd; cumulative scores are preserved.
func (g *GameState) NextRound() error {
	if g.Phase != PhaseRoundEnd {
		return errWrongPhase("NextRound", g.Phase)
	}
	g.Round++
	g.buildDeck()
	for p := uint8(0); p < g.Rules.numPlayers(); p++ {
		g.Players[p].Grid = [GridSize]GridCard{}
		g.Players[p].RoundScore = 0
	}
	g.ExtraTurn = false
	g.FinalTrigger = -1
	g.finalLapTaken = 0
	g.peeked = [MaxPlayers]uint8{}
	g.Pending = PendingDraw{}
	g.Phase = PhaseDealing
	return g.Deal()
}

// ---------------------------------------------------------------------------
// Query methods
// ---------------------------------------------------------------------------

// IsFinished returns true when all configured rounds have been played.
func (g *GameState) IsFinished() bool { return g.Phase == PhaseFinished }

// DiscardTop returns the top card of the discard pile, or EmptyCard if empty.
func (g *GameState) DiscardTop() Card {
	if g.DiscardLen == 0 {
		return EmptyCard
	}
	return g.DiscardPile[g.DiscardLen-1]
}

// DrawnCard returns the card drawn by the current pending action, if any.
func (g *GameState) DrawnCard() (Card, bool) {
	if !g.Pending.Active {
		return EmptyCard, false
	}
	return g.Pending.Card, true
}

// NumActivePlayers returns the number of active players in this game.
func (g *GameState) NumActivePlayers() uint8 { return g.Rules.numPlayers() }

// HasPeeked reports whether the player has completed their initial peek.
func (g *GameState) HasPeeked(player uint8) bool {
	return player < MaxPlayers && g.peeked[player] >= g.Rules.peekCount()
}

// TookFinalLapTurn reports whether the player already took their final-lap
// turn this round.
func (g *GameState) TookFinalLapTurn(player uint8) bool {
	return g.finalLapTaken&(1<<player) != 0
}

// SetConnected flips a seat's connectivity flag. A seat that drops never
// holds the game: during the peek phase its missing peek is waived, and a
// disconnecting current player forfeits the rest of their turn (any pending
// draw is discarded and the turn rotates).
func (g *GameState) SetConnected(player uint8, connected bool) {
	if player >= g.Rules.numPlayers() {
		return
	}
	g.Players[player].Connected = connected
	if connected {
		return
	}
	switch g.Phase {
	case PhasePeeking:
		g.maybeFinishPeeking()
	case PhaseTurn:
		if g.CurrentPlayer != player {
			return
		}
		if g.Pending.Active && g.Pending.Player == player {
			g.DiscardPile[g.DiscardLen] = g.Pending.Card
			g.DiscardLen++
			g.Pending = PendingDraw{}
		}
		g.ExtraTurn = false
		g.advanceTurn()
	}
}

// nextConnected returns the next connected player after start in seating
// order, wrapping around. Returns start itself if nobody else is connected.
func (g *GameState) nextConnected(start uint8) uint8 {
	n := g.Rules.numPlayers()
	for i := uint8(1); i <= n; i++ {
		cand := (start + i) % n
		if g.Players[cand].Connected {
			return cand
		}
	}
	return start
}

// CountCards returns the total number of cards across the stockpile, the
// discard pile, and every active grid. The deck conservation invariant
// requires this to equal DeckSize at all times after dealing.
func (g *GameState) CountCards() int {
	total := int(g.StockLen) + int(g.DiscardLen)
	for p := uint8(0); p < g.Rules.numPlayers(); p++ {
		total += GridSize
	}
	if g.Pending.Active {
		total++
	}
	return total
}

// ---------------------------------------------------------------------------
// Snapshot Undo (Save / Restore)
// ---------------------------------------------------------------------------

// Snapshot is a complete value-copy of GameState for undo support.
type Snapshot GameState

// Save returns a snapshot of the current game state.
func (g *GameState) Save() Snapshot { return Snapshot(*g) }

// Restore replaces the game state with the given snapshot.
func (g *GameState) Restore(s Snapshot) { *g = GameState(s) }
