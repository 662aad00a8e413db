package engine

// RoundScores returns the per-round score of every active player. Values
// are meaningful once finishRound has run (PhaseRoundEnd or PhaseFinished).
func (g *GameState) RoundScores() []int16 {
	n := g.Rules.numPlayers()
	scores := make([]int16, n)
	for p := uint8(0); p < n; p++ {
		scores[p] = g.Players[p].RoundScore
	}
	return scores
}

// TotalScores returns the cumulative score of every active player.
func (g *GameState) TotalScores() []int16 {
	n := g.Rules.numPlayers()
	scores := make([]int16, n)
	for p := uint8(0); p < n; p++ {
		scores[p] = g.Players[p].TotalScore
	}
	return scores
}

// Winners returns every player holding the lowest cumulative score. Ties
// are preserved as ties; no tiebreak is applied. Only meaningful when the
// game is finished.
func (g *GameState) Winners() []uint8 {
	n := g.Rules.numPlayers()
	if n == 0 {
		return nil
	}
	lowest := g.Players[0].TotalScore
	for p := uint8(1); p < n; p++ {
		if g.Players[p].TotalScore < lowest {
			lowest = g.Players[p].TotalScore
		}
	}
	winners := make([]uint8, 0, n)
	for p := uint8(0); p < n; p++ {
		if g.Players[p].TotalScore == lowest {
			winners = append(winners, p)
		}
	}
	return winners
}
