// Package io reads SMTP protocol lines from a byte stream with a hard length
// limit and rejection of embedded null bytes.
package io

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// DefaultMaxLineLength is the longest accepted line, terminator included.
const DefaultMaxLineLength = 1024

var (
	ErrLineTooLong   = errors.New("smtp: line too long")
	ErrBadLineEnding = errors.New("smtp: line not terminated by CRLF")
	ErrNullByte      = errors.New("smtp: line contains a null byte")
)

// LineReader reads one protocol line at a time from an underlying stream.
// It is not safe for concurrent use.
type LineReader struct {
	reader *bufio.Reader
	max    int
	strict bool
}

// NewLineReader wraps r. Lines longer than max bytes (terminator included)
// are rejected with ErrLineTooLong. When strict is set, a bare LF terminator
// is rejected with ErrBadLineEnding.
func NewLineReader(r io.Reader, max int, strict bool) *LineReader {
	if max <= 0 {
		max = DefaultMaxLineLength
	}
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, max)
	}
	return &LineReader{reader: br, max: max, strict: strict}
}

// ReadLine returns the next line without its line terminator.
// The returned slice is owned by the caller.
func (l *LineReader) ReadLine() ([]byte, error) {
	return ReadLine(l.reader, l.max, l.strict)
}

// ReadLine reads a single SMTP line with length enforcement and null byte
// detection. A stream that ends in the middle of a line yields
// io.ErrUnexpectedEOF; a stream that ends on a line boundary yields io.EOF.
func ReadLine(reader *bufio.Reader, max int, strict bool) ([]byte, error) {
	// FAST PATH: the whole line fits in the bufio buffer.
	line, err := reader.ReadSlice('\n')
	if err == nil {
		return validateAndCopy(line, max, strict)
	}

	if err != bufio.ErrBufferFull {
		if err == io.EOF && len(line) > 0 {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}

	// SLOW PATH: the line is larger than the bufio buffer, accumulate chunks.
	if len(line) > max {
		drainLine(reader)
		return nil, ErrLineTooLong
	}
	buf := append([]byte(nil), line...)

	for {
		line, err = reader.ReadSlice('\n')

		if len(buf)+len(line) > max {
			if err == bufio.ErrBufferFull {
				drainLine(reader)
			}
			return nil, ErrLineTooLong
		}

		buf = append(buf, line...)

		if err == nil {
			break
		}

		if err != bufio.ErrBufferFull {
			if err == io.EOF {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}

	return validateAndCopy(buf, max, strict)
}

// validateAndCopy checks length, line ending and null bytes, then strips the
// terminator. b always ends in '\n'.
func validateAndCopy(b []byte, max int, strict bool) ([]byte, error) {
	if len(b) > max {
		return nil, ErrLineTooLong
	}

	b = b[:len(b)-1]
	if len(b) > 0 && b[len(b)-1] == '\r' {
		b = b[:len(b)-1]
	} else if strict {
		return nil, ErrBadLineEnding
	}

	if bytes.IndexByte(b, 0) >= 0 {
		return nil, ErrNullByte
	}

	return bytes.Clone(b), nil
}

// drainLine discards the rest of the current line to recover protocol synchronization.
func drainLine(reader *bufio.Reader) {
	for {
		_, err := reader.ReadSlice('\n')
		if err == nil {
			return
		}
		if err != bufio.ErrBufferFull {
			return
		}
	}
}
