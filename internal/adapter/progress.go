package adapter

import "io"

// NewProgressReader wraps r so every read reports cumulative bytes
// through fn. total may be negative when the caller cannot size the
// stream up front. A nil fn returns r unchanged.
func NewProgressReader(r io.Reader, total int64, fn ProgressFunc) io.Reader {
	if fn == nil {
		return r
	}
	return &progressReader{r: r, total: total, fn: fn}
}

type progressReader struct {
	r     io.Reader
	total int64
	done  int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}

// NewProgressWriter mirrors NewProgressReader for write-side flows,
// such as capturing a dump tool's stdout into a file.
func NewProgressWriter(w io.Writer, total int64, fn ProgressFunc) io.Writer {
	if fn == nil {
		return w
	}
	return &progressWriter{w: w, total: total, fn: fn}
}

type progressWriter struct {
	w     io.Writer
	total int64
	done  int64
	fn    ProgressFunc
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}
