package daemonctl

import (
	"bytes"
	"io"
	"os"

	"github.com/yaogent/ymux/internal/mcperr"
)

// tailChunk is how much is read from the end of the log per step when
// looking for line boundaries.
const tailChunk = 16 * 1024

// Log returns the last n lines of the daemon log. A missing log file is a
// NotFound error so callers can report it without failing.
func (c *Controller) Log(n int) ([]string, error) {
	f, err := os.Open(c.LogPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, mcperr.New(mcperr.CodeNotFound, "no log file at %s", c.LogPath)
		}
		return nil, err
	}
	defer f.Close()

	return tailLines(f, n)
}

// tailLines reads backwards from the end of f until it has n lines or hits
// the start of the file.
func tailLines(f *os.File, n int) ([]string, error) {
	if n <= 0 {
		return nil, nil
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	var buf []byte
	offset := info.Size()
	for offset > 0 && bytes.Count(buf, []byte{'\n'}) <= n {
		step := int64(tailChunk)
		if step > offset {
			step = offset
		}
		offset -= step

		chunk := make([]byte, step)
		if _, err := f.ReadAt(chunk, offset); err != nil && err != io.EOF {
			return nil, err
		}
		buf = append(chunk, buf...)
	}

	buf = bytes.TrimRight(buf, "\n")
	if len(buf) == 0 {
		return nil, nil
	}
	lines := bytes.Split(buf, []byte{'\n'})
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}

	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = string(l)
	}
	return out, nil
}
