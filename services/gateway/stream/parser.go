// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// =============================================================================
// Incremental SSE Frame Parser
// =============================================================================

const (
	// maxFrameBytes caps the reassembly buffer. A single frame larger than
	// this is treated as a decode error rather than unbounded growth.
	maxFrameBytes = 64 * 1024

	// readChunkBytes is the transport read size.
	readChunkBytes = 4 * 1024
)

var (
	// errStreamDone signals the provider's terminal sentinel frame.
	errStreamDone = errors.New("stream: done sentinel")

	// ErrFrameTooLarge means a single frame exceeded maxFrameBytes before
	// its terminating newline arrived.
	ErrFrameTooLarge = errors.New("stream: frame exceeds reassembly buffer cap")
)

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// frameReader pulls `data: <payload>` frames out of an SSE response body.
//
// # Description
//
// The body is a sequence of newline-delimited lines. Frame boundaries do
// not align with transport reads, so the reader keeps the unterminated
// remainder of the last read in a bounded tail buffer and completes the
// frame on a later read. Blank lines, comment lines (leading ':'), and
// non-data fields (event:, id:, retry:) are skipped.
//
// # Thread Safety
//
// Not safe for concurrent use. One frameReader per response body.
type frameReader struct {
	r    io.Reader
	buf  []byte
	tail []byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{
		r:   r,
		buf: make([]byte, readChunkBytes),
	}
}

// Next returns the payload of the next data frame.
//
// # Outputs
//
//   - []byte: Frame payload with the `data:` prefix stripped. Valid until
//     the next call to Next.
//   - error: errStreamDone on the [DONE] sentinel, io.ErrUnexpectedEOF if
//     the body ended without one, ErrFrameTooLarge on buffer cap overflow,
//     or the transport read error.
func (fr *frameReader) Next() ([]byte, error) {
	for {
		// Drain complete lines already buffered.
		for {
			idx := bytes.IndexByte(fr.tail, '\n')
			if idx < 0 {
				break
			}
			line := fr.tail[:idx]
			fr.tail = fr.tail[idx+1:]

			payload, ok := parseDataLine(line)
			if !ok {
				continue
			}
			if bytes.Equal(payload, doneSentinel) {
				return nil, errStreamDone
			}
			return payload, nil
		}

		if len(fr.tail) > maxFrameBytes {
			return nil, ErrFrameTooLarge
		}

		n, err := fr.r.Read(fr.buf)
		if n > 0 {
			// Compact: the tail may alias a previous read, so copy before
			// appending the new bytes.
			fr.tail = append(append(make([]byte, 0, len(fr.tail)+n), fr.tail...), fr.buf[:n]...)
			continue
		}
		if err == io.EOF {
			// A provider that closes without the sentinel dropped the
			// connection mid-stream.
			return nil, io.ErrUnexpectedEOF
		}
		if err != nil {
			return nil, fmt.Errorf("stream read: %w", err)
		}
	}
}

// parseDataLine extracts the payload from one line, reporting false for
// lines that carry no data frame.
func parseDataLine(line []byte) ([]byte, bool) {
	line = bytes.TrimSuffix(line, []byte("\r"))
	if len(line) == 0 || line[0] == ':' {
		return nil, false
	}
	if !bytes.HasPrefix(line, dataPrefix) {
		return nil, false
	}
	payload := bytes.TrimPrefix(line, dataPrefix)
	payload = bytes.TrimPrefix(payload, []byte(" "))
	return payload, true
}
