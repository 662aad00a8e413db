// Package engine implements the Golf 9 card game rules.
//
// The package is a flat, self-contained state machine: GameState is a value
// type built on fixed arrays with an embedded xorshift64 RNG, so a full game
// is reproducible from its seed and the sequence of applied moves. It has no
// dependencies and performs no I/O; the service layer owns transport,
// logging, and persistence.
package engine

// Suit constants, packed into the upper 4 bits of Card. Suits are cosmetic in
// Golf 9 and never affect scoring.
const (
	SuitHearts   uint8 = 0
	SuitDiamonds uint8 = 1
	SuitClubs    uint8 = 2
	SuitSpades   uint8 = 3
)

// Rank constants, packed into the lower 4 bits of Card.
const (
	RankAce   uint8 = 0
	RankTwo   uint8 = 1
	RankThree uint8 = 2
	RankFour  uint8 = 3
	RankFive  uint8 = 4
	RankSix   uint8 = 5
	RankSeven uint8 = 6
	RankEight uint8 = 7
	RankNine  uint8 = 8
	RankTen   uint8 = 9
	RankJack  uint8 = 10
	RankQueen uint8 = 11
	RankKing  uint8 = 12
)

// Card is a packed uint8: upper 4 bits = suit, lower 4 bits = rank.
type Card uint8

// EmptyCard represents the absence of a card.
const EmptyCard Card = 0xFF

// NewCard constructs a Card from suit and rank.
func NewCard(suit, rank uint8) Card {
	return Card((suit << 4) | (rank & 0x0F))
}

// Suit returns the suit bits (upper 4).
func (c Card) Suit() uint8 { return uint8(c) >> 4 }

// Rank returns the rank bits (lower 4).
func (c Card) Rank() uint8 { return uint8(c) & 0x0F }

// Value returns the Golf 9 point value of the card.
//   - Ace -> 1
//   - Two-Four, Six-Ten -> face value
//   - Five -> -5
//   - Jack, Queen -> 10
//   - King -> 0
//
// The function is pure and total over the 52-card domain.
func (c Card) Value() int8 {
	r := c.Rank()
	switch {
	case r == RankAce:
		return 1
	case r == RankFive:
		return -5
	case r <= RankTen: // ranks 1-9 minus the Five above: Two-Four, Six-Ten
		return int8(r + 1)
	case r == RankJack || r == RankQueen:
		return 10
	case r == RankKing:
		return 0
	}
	// EmptyCard or malformed: return 0
	return 0
}

var rankNames = [13]string{"A", "2", "3", "4", "5", "6", "7", "8", "9", "10", "J", "Q", "K"}
var suitNames = [4]string{"hearts", "diamonds", "clubs", "spades"}

// RankString returns the display name of the card's rank ("A", "2" through "K").
func (c Card) RankString() string {
	if r := c.Rank(); r < 13 {
		return rankNames[r]
	}
	return "?"
}

// SuitString returns the display name of the card's suit.
func (c Card) SuitString() string {
	if s := c.Suit(); s < 4 {
		return suitNames[s]
	}
	return "?"
}

// String renders the card as rank+suit, e.g. "5 of spades".
func (c Card) String() string {
	if c == EmptyCard {
		return "empty"
	}
	return c.RankString() + " of " + c.SuitString()
}
