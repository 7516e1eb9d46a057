// Package mapper converts geographic coordinates to H3 cells.
package mapper

type Interface interface {
	CellForPoint(lat, lon float64, res int) (string, error)
	ToParent(cell string, parentRes int) (string, error)
}
