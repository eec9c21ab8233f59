// Package scanner filters the lines owned by one span of a log file.
//
// A line is owned by the span that contains its first byte. A scanner for a
// span starting past 0 begins one byte early and discards through the first
// newline, so a line whose first byte sits exactly at the span start is kept
// while a fragment continuing from the previous span is dropped. It then reads
// whole lines while the line start is before the span end; the last owned line
// may run past the end.
package scanner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"logslice/internal/core/domain"
)

const (
	readBufSize  = 256 * 1024
	writeBufSize = 64 * 1024
)

// Stats describes what a scan saw.
type Stats struct {
	Lines   int64
	Matched int64
	Bytes   int64
}

// Scan writes every owned line of span that starts with prefix to w, in file
// order, each terminated by a newline. size is the total source size.
// ctx is checked between lines.
func Scan(ctx context.Context, src io.ReaderAt, size int64, span domain.Span, prefix []byte, w io.Writer) (Stats, error) {
	var st Stats
	if span.Start < 0 || span.End > size || span.Start >= span.End {
		return st, fmt.Errorf("span %s outside source of %d bytes", span, size)
	}

	from := span.Start
	if from > 0 {
		from--
	}
	lr := newLineReader(io.NewSectionReader(src, from, size-from))
	bw := bufio.NewWriterSize(w, writeBufSize)

	pos := from
	if span.Start > 0 {
		n, err := lr.skip()
		pos += n
		if errors.Is(err, io.EOF) {
			return st, nil
		}
		if err != nil {
			return st, fmt.Errorf("align to line start: %w", err)
		}
	}

	for pos < span.End {
		if err := ctx.Err(); err != nil {
			return st, err
		}
		line, err := lr.next()
		if len(line) > 0 {
			pos += int64(len(line))
			st.Lines++
			st.Bytes += int64(len(line))
			if bytes.HasPrefix(bytes.TrimSuffix(line, []byte{'\n'}), prefix) {
				st.Matched++
				if werr := writeLine(bw, line); werr != nil {
					return st, fmt.Errorf("write match: %w", werr)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return st, fmt.Errorf("read at offset %d: %w", pos, err)
		}
	}

	if err := bw.Flush(); err != nil {
		return st, fmt.Errorf("flush matches: %w", err)
	}
	return st, nil
}

func writeLine(bw *bufio.Writer, line []byte) error {
	if _, err := bw.Write(line); err != nil {
		return err
	}
	if line[len(line)-1] != '\n' {
		return bw.WriteByte('\n')
	}
	return nil
}

// lineReader yields newline-terminated lines of any length, reusing one
// scratch buffer for lines longer than the bufio buffer.
type lineReader struct {
	br      *bufio.Reader
	scratch []byte
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, readBufSize)}
}

// next returns the next line including its '\n', if any. The slice is only
// valid until the following call.
func (l *lineReader) next() ([]byte, error) {
	line, err := l.br.ReadSlice('\n')
	if !errors.Is(err, bufio.ErrBufferFull) {
		return line, err
	}
	l.scratch = append(l.scratch[:0], line...)
	for errors.Is(err, bufio.ErrBufferFull) {
		line, err = l.br.ReadSlice('\n')
		l.scratch = append(l.scratch, line...)
	}
	return l.scratch, err
}

// skip discards through the next '\n' and reports how many bytes it consumed.
func (l *lineReader) skip() (int64, error) {
	var n int64
	for {
		chunk, err := l.br.ReadSlice('\n')
		n += int64(len(chunk))
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return n, err
	}
}
