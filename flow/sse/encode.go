package sse

import (
	"fmt"
	"io"
	"strings"
)

// Encode writes one event block to w. Multi-line payloads are written as
// consecutive data lines, which Decoder joins back with "\n".
func Encode(w io.Writer, event, data string) error {
	var b strings.Builder
	b.WriteString(eventPrefix)
	b.WriteByte(' ')
	b.WriteString(event)
	b.WriteByte('\n')
	for _, line := range strings.Split(data, "\n") {
		b.WriteString(dataPrefix)
		b.WriteByte(' ')
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write %s frame: %w", event, err)
	}
	return nil
}
