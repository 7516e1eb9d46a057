// Package hotness tracks how often query centres land in the same map
// cells.
package hotness

type Interface interface {
	// Inc records one query centre falling in cell.
	Inc(cell string)
	Score(cell string) float64
	Reset(cells ...string)
}
