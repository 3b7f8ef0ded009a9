// Package progress reports the advance of a byte stream.
package progress

import "io"

// Func receives the bytes read so far and the expected total, which is zero
// when unknown.
type Func func(read, total int64)

// Reader wraps an io.Reader and calls OnProgress every interval bytes and
// once more when the stream ends.
type Reader struct {
	r          io.Reader
	total      int64
	interval   int64
	onProgress Func

	read       int64
	sinceLast  int64
	reportedAt int64
}

// NewReader wraps r. An interval <= 0 only reports at the end of the stream.
func NewReader(r io.Reader, total, interval int64, cb Func) *Reader {
	return &Reader{
		r:          r,
		total:      total,
		interval:   interval,
		onProgress: cb,
		reportedAt: -1,
	}
}

func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.r.Read(p)
	if n > 0 {
		pr.read += int64(n)
		pr.sinceLast += int64(n)

		if pr.interval > 0 && pr.sinceLast >= pr.interval {
			pr.report()
		}
	}

	if err == io.EOF && pr.reportedAt != pr.read {
		pr.report()
	}

	return n, err
}

// BytesRead returns the number of bytes read so far.
func (pr *Reader) BytesRead() int64 {
	return pr.read
}

func (pr *Reader) report() {
	pr.sinceLast = 0
	pr.reportedAt = pr.read

	if pr.onProgress != nil {
		pr.onProgress(pr.read, pr.total)
	}
}
