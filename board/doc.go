// Package board orders tasks inside status columns.
//
// Positions are float64 sort keys that only carry meaning inside a single
// column. Place computes where a dropped task lands without touching the
// stored positions of its neighbours; when repeated inserts squeeze the gap
// between two neighbours below Epsilon the column is respaced instead.
//
// Session layers an optimistic move transaction on top of Place for clients
// that hold a local copy of the board.
package board
