// Package sse frames a line-oriented event stream into discrete events.
//
// The wire format is the one used by the workflow execution endpoint:
//
//	event: node_start
//	data: {"nodeId":"n1","status":"running"}
//
//	event: complete
//	data: {"status":"success"}
//
// Each block ends with a blank line. The Decoder is incremental: bytes can
// arrive in chunks of any size, split anywhere (including inside a
// multi-byte character or inside the blank-line delimiter), and the
// sequence of frames produced is the same as if the whole stream had been
// fed at once.
package sse

import (
	"bytes"
	"strings"
	"unicode/utf8"
)

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
)

// Frame is one framed event: its name and its raw, undecoded payload.
type Frame struct {
	// Event is the trimmed value of the "event:" field.
	Event string

	// Data is the payload of the "data:" field(s). Only the field prefix and
	// one optional following space are removed.
	Data string
}

// Decoder incrementally splits a byte stream into Frames.
//
// A Decoder retains the trailing incomplete fragment between calls to Feed.
// It is not safe for concurrent use; a run owns exactly one Decoder.
//
// Example:
//
//	var dec sse.Decoder
//	for chunk := range chunks {
//	    for _, f := range dec.Feed(chunk) {
//	        handle(f)
//	    }
//	}
//	for _, f := range dec.Flush() {
//	    handle(f)
//	}
type Decoder struct {
	buf []byte

	// scanned is how far buf has been searched for a delimiter.
	scanned int

	// Skipped counts blocks that carried content but were dropped because
	// they lacked an event name or a payload.
	Skipped int
}

// Feed appends chunk to the retained buffer and returns every frame whose
// block is now complete. The chunk slice is not retained.
func (d *Decoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		// A delimiter split across chunks starts at most two bytes back.
		end, next := blockBoundary(d.buf, max(0, d.scanned-2))
		if next < 0 {
			d.scanned = len(d.buf)
			break
		}
		if f, ok := d.parseBlock(d.buf[:end]); ok {
			frames = append(frames, f)
		}
		d.buf = d.buf[next:]
		d.scanned = 0
	}

	// Keep the retained fragment in its own backing array so a long stream
	// does not pin every chunk ever fed.
	if len(d.buf) == 0 {
		d.buf = nil
	} else if cap(d.buf) > 4*len(d.buf) && cap(d.buf) > 4096 {
		d.buf = append([]byte(nil), d.buf...)
	}
	return frames
}

// Flush treats whatever is left in the buffer as a final block, returns the
// frame it yields (if any), and resets the Decoder.
func (d *Decoder) Flush() []Frame {
	rest := d.buf
	d.buf = nil
	d.scanned = 0
	if len(bytes.TrimSpace(rest)) == 0 {
		return nil
	}
	if f, ok := d.parseBlock(rest); ok {
		return []Frame{f}
	}
	return nil
}

// Buffered reports how many bytes are retained waiting for a delimiter.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// blockBoundary finds the first blank line in buf, searching from offset
// from. It returns the end of the block content and the offset where the
// next block starts, or next == -1 when no complete delimiter is present
// yet.
//
// A line terminator is "\n" or "\r\n"; a blank line is a terminator directly
// followed by another terminator.
func blockBoundary(buf []byte, from int) (end, next int) {
	for i := from; i < len(buf); i++ {
		if buf[i] != '\n' {
			continue
		}
		switch {
		case i+1 >= len(buf):
			return 0, -1
		case buf[i+1] == '\n':
			return i, i + 2
		case buf[i+1] == '\r':
			if i+2 >= len(buf) {
				return 0, -1
			}
			if buf[i+2] == '\n' {
				return i, i + 3
			}
		}
	}
	return 0, -1
}

// parseBlock extracts the event name and payload from one block.
func (d *Decoder) parseBlock(block []byte) (Frame, bool) {
	if len(bytes.TrimSpace(block)) == 0 {
		return Frame{}, false
	}

	text := string(block)
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, "\uFFFD")
	}

	var (
		name    string
		hasName bool
		data    []string
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case line == "" || strings.HasPrefix(line, ":"):
			// comment or padding
		case strings.HasPrefix(line, eventPrefix):
			name = strings.TrimSpace(line[len(eventPrefix):])
			hasName = name != ""
		case strings.HasPrefix(line, dataPrefix):
			v := line[len(dataPrefix):]
			v = strings.TrimPrefix(v, " ")
			data = append(data, v)
		}
	}

	if !hasName || len(data) == 0 {
		d.Skipped++
		return Frame{}, false
	}
	return Frame{Event: name, Data: strings.Join(data, "\n")}, true
}
