package api

import (
	"bufio"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// frameReader splits an SSE body into frames on blank lines.
type frameReader struct {
	frames chan string
}

func newFrameReader(body io.Reader) *frameReader {
	fr := &frameReader{frames: make(chan string, 64)}
	go func() {
		defer close(fr.frames)
		sc := bufio.NewScanner(body)
		var cur []string
		for sc.Scan() {
			line := sc.Text()
			if line == "" {
				fr.frames <- strings.Join(cur, "\n")
				cur = nil
				continue
			}
			cur = append(cur, line)
		}
	}()
	return fr
}

// next returns the next frame, or "" once the stream has closed.
func (fr *frameReader) next(t *testing.T) string {
	t.Helper()
	select {
	case f, ok := <-fr.frames:
		if !ok {
			return ""
		}
		return f
	case <-time.After(5 * time.Second):
		require.FailNow(t, "timed out waiting for stream frame")
		return ""
	}
}
