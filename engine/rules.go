package engine

// Rules holds configurable game settings.
type Rules struct {
	NumPlayers uint8 // number of active players (2-4); 0 treated as 2
	Rounds     uint8 // rounds per game; 0 treated as 1
	PeekCount  uint8 // cells each player reveals before the first turn; 0 treated as 2
}

// DefaultRules returns the standard Golf 9 rules.
func DefaultRules() Rules {
	return Rules{
		NumPlayers: 2,
		Rounds:     1,
		PeekCount:  2,
	}
}

// numPlayers returns the effective number of players, treating 0 as 2.
func (r *Rules) numPlayers() uint8 {
	if r.NumPlayers == 0 {
		return 2
	}
	return r.NumPlayers
}

// rounds returns the effective number of rounds, treating 0 as 1.
func (r *Rules) rounds() uint8 {
	if r.Rounds == 0 {
		return 1
	}
	return r.Rounds
}

// peekCount returns the effective peek count, treating 0 as 2.
func (r *Rules) peekCount() uint8 {
	if r.PeekCount == 0 {
		return 2
	}
	return r.PeekCount
}
