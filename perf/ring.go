package perf

// CircleSample is a ring buffer of samples, the same shape as
// ringo.CircleF64 but typed for Sample.  It is not concurrent safe; the
// Monitor guards it.
type CircleSample struct {
	buf    []Sample
	cursor int
	filled bool
}

// Init creates a new slice of zero samples and resets the internal state of
// the buffer.  It may be called multiple times.
func (c *CircleSample) Init(size int) {
	c.buf = make([]Sample, size)
	c.filled = false
	c.cursor = 0
}

// Append adds a sample to the buffer, overwriting the oldest when full
func (c *CircleSample) Append(s Sample) {
	if c.cursor == cap(c.buf) {
		c.cursor = 0
		c.filled = true
	}
	c.buf[c.cursor] = s
	c.cursor++
}

// Contiguous gets a slice of the samples in the buffer from least to most
// recent.  It returns nil if the buffer is empty.
func (c *CircleSample) Contiguous() []Sample {
	if c.cursor == 0 && !c.filled {
		return nil
	}
	if c.filled {
		out := make([]Sample, 0, len(c.buf))
		out = append(out, c.buf[c.cursor:]...)
		out = append(out, c.buf[:c.cursor]...)
		return out
	}
	out := make([]Sample, c.cursor)
	copy(out, c.buf[:c.cursor])
	return out
}

// Len returns the number of samples held
func (c *CircleSample) Len() int {
	if c.filled {
		return len(c.buf)
	}
	return c.cursor
}

// CircleAlert is a ring buffer of alerts in the same shape.
type CircleAlert struct {
	buf    []Alert
	cursor int
	filled bool
}

// Init creates a new slice of zero alerts and resets the internal state of
// the buffer
func (c *CircleAlert) Init(size int) {
	c.buf = make([]Alert, size)
	c.filled = false
	c.cursor = 0
}

// Append adds an alert to the buffer, overwriting the oldest when full
func (c *CircleAlert) Append(a Alert) {
	if c.cursor == cap(c.buf) {
		c.cursor = 0
		c.filled = true
	}
	c.buf[c.cursor] = a
	c.cursor++
}

// Contiguous gets a slice of the alerts in the buffer from least to most
// recent.  It returns nil if the buffer is empty.
func (c *CircleAlert) Contiguous() []Alert {
	if c.cursor == 0 && !c.filled {
		return nil
	}
	if c.filled {
		out := make([]Alert, 0, len(c.buf))
		out = append(out, c.buf[c.cursor:]...)
		out = append(out, c.buf[:c.cursor]...)
		return out
	}
	out := make([]Alert, c.cursor)
	copy(out, c.buf[:c.cursor])
	return out
}
