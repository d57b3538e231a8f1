// Package cycle detects cyclical lows and highs in a bar series.
//
// Each bar is folded into an explicit State by Step, a pure function of the
// prior State and the new bar. Within a cycle the lowest low and highest high
// are tracked as Potential points; once the bar window is exhausted they are
// locked in as Final points, the cycle is closed and a new one opens on the
// bar after the finalized low. Closed cycles feed a failed-cycle check and a
// running mean of cycle lengths, from which the end of the open cycle is
// projected on every bar.
//
// Engine wraps a State for single-goroutine streaming use.
package cycle
