package engine

// Grid geometry: 9 cells laid out as 3 rows by 3 columns. Cell index i sits
// at row i/GridCols, column i%GridCols.
const (
	GridSize = 9
	GridCols = 3
	GridRows = 3
)

// GridCard is one cell of a player's grid. The underlying Card is always
// present; Revealed is a visibility flag, not absence of data. Cleared is
// set once the cell's column was zeroed by the three-of-a-kind rule; a
// cleared cell contributes 0 to scoring and can no longer be a swap target.
type GridCard struct {
	Card     Card
	Revealed bool
	Cleared  bool
}

// PlayerState holds one player's grid and per-round bookkeeping.
type PlayerState struct {
	Grid       [GridSize]GridCard
	Connected  bool
	RoundScore int16
	TotalScore int16
}

// ColumnOf returns the column index (0-2) of a grid cell.
func ColumnOf(cell uint8) uint8 { return cell % GridCols }

// ColumnCells returns the three cell indices sharing the given column.
func ColumnCells(col uint8) [3]uint8 {
	return [3]uint8{col, col + GridCols, col + 2*GridCols}
}

// AllRevealed reports whether every cell of the grid is face-up. Cleared
// cells count as revealed; they were face-up when their column cleared.
func (p *PlayerState) AllRevealed() bool {
	for i := range p.Grid {
		if !p.Grid[i].Revealed && !p.Grid[i].Cleared {
			return false
		}
	}
	return true
}

// GridScore returns the grid's current score: the sum of card values over
// all cells, with cleared cells contributing 0.
func (p *PlayerState) GridScore() int16 {
	var sum int16
	for i := range p.Grid {
		if p.Grid[i].Cleared {
			continue
		}
		sum += int16(p.Grid[i].Card.Value())
	}
	return sum
}

// HasTargetableCell reports whether any cell can still be a swap target.
func (p *PlayerState) HasTargetableCell() bool {
	for i := range p.Grid {
		if !p.Grid[i].Cleared {
			return true
		}
	}
	return false
}

// UnrevealedCount returns the number of cells still face-down.
func (p *PlayerState) UnrevealedCount() uint8 {
	var n uint8
	for i := range p.Grid {
		if !p.Grid[i].Revealed && !p.Grid[i].Cleared {
			n++
		}
	}
	return n
}
