package tail

import (
	"bytes"
	"io"
	"os"
)

// cursor tracks read progress in one log file: the byte offset of the
// next read and any partial trailing line held for the next append.
type cursor struct {
	offset  int64
	partial []byte
	done    bool
}

// readNew reads bytes appended since the cursor's offset and returns
// the complete lines among them. A trailing fragment without a newline
// is carried in the cursor. Truncation (current size below the offset)
// resets the cursor to the start of the file.
func (c *cursor) readNew(path string) ([][]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() < c.offset {
		c.offset = 0
		c.partial = nil
	}
	if info.Size() == c.offset {
		return nil, nil
	}

	if _, err := f.Seek(c.offset, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	c.offset += int64(len(data))

	return c.splitLines(data), nil
}

// splitLines prepends the held fragment, splits complete lines, and
// retains any new trailing fragment.
func (c *cursor) splitLines(data []byte) [][]byte {
	if len(c.partial) > 0 {
		data = append(c.partial, data...)
		c.partial = nil
	}

	var lines [][]byte
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimRight(data[:i], "\r")
		if len(line) > 0 {
			lines = append(lines, append([]byte(nil), line...))
		}
		data = data[i+1:]
	}
	if len(data) > 0 {
		c.partial = append([]byte(nil), data...)
	}
	return lines
}
