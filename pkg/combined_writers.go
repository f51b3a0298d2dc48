package pkg

import (
	"io"

	"go.uber.org/multierr"
)

// CombinedWriter tees every write to all of its writers. A failing writer
// does not stop the others.
type CombinedWriter struct {
	writers []io.Writer
}

func NewCombinedWriter(writers ...io.Writer) *CombinedWriter {
	return &CombinedWriter{writers: writers}
}

func (cw *CombinedWriter) Writers() []io.Writer {
	return cw.writers
}

// Write returns len(p) only when every writer took the whole of p.
// Otherwise it returns the shortest write and the errors of all failing writers.
func (cw *CombinedWriter) Write(p []byte) (int, error) {
	shortest := len(p)
	var err error
	for _, w := range cw.writers {
		n, werr := w.Write(p)
		if werr == nil && n < len(p) {
			werr = io.ErrShortWrite
		}
		if werr != nil {
			err = multierr.Append(err, werr)
			shortest = min(shortest, n)
		}
	}
	return shortest, err
}
