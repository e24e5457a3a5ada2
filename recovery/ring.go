package recovery

// CircleEvent is a ring buffer of error events, the same shape as
// ringo.CircleF64 but typed for Event.  It is not concurrent safe; the
// Manager guards it.
type CircleEvent struct {
	buf    []Event
	cursor int
	filled bool
}

// Init creates a new slice of zero events and resets the internal state of
// the buffer.  It may be called multiple times.
func (c *CircleEvent) Init(size int) {
	c.buf = make([]Event, size)
	c.filled = false
	c.cursor = 0
}

// Append adds an event to the buffer, overwriting the oldest when full
func (c *CircleEvent) Append(e Event) {
	if c.cursor == cap(c.buf) {
		c.cursor = 0
		c.filled = true
	}
	c.buf[c.cursor] = e
	c.cursor++
}

// Contiguous gets a slice of the events in the buffer from least to most
// recent.  It returns nil if the buffer is empty.
func (c *CircleEvent) Contiguous() []Event {
	if c.cursor == 0 && !c.filled {
		return nil
	}
	if c.filled {
		out := make([]Event, 0, len(c.buf))
		out = append(out, c.buf[c.cursor:]...)
		out = append(out, c.buf[:c.cursor]...)
		return out
	}
	out := make([]Event, c.cursor)
	copy(out, c.buf[:c.cursor])
	return out
}

// Len returns the number of events held
func (c *CircleEvent) Len() int {
	if c.filled {
		return len(c.buf)
	}
	return c.cursor
}
