package pill

import "sync/atomic"

// Cursor is the per-pill sequence position.
//
// In record mode it hands out the index of the next entry to write; in
// replay mode it is the index of the next entry to serve. Both start at 0
// and advance by exactly one per intercepted call.
type Cursor struct {
	pos atomic.Int64
}

// Next returns the current position and advances the cursor.
func (c *Cursor) Next() int {
	return int(c.pos.Add(1) - 1)
}

// Position returns the current position without advancing.
func (c *Cursor) Position() int {
	return int(c.pos.Load())
}

// Reset rewinds the cursor to 0.
func (c *Cursor) Reset() {
	c.pos.Store(0)
}
