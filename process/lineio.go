package process

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// readResult holds the result of a read operation for timeout handling.
type readResult struct {
	line string
	err  error
}

// WriteLine frames one message onto the child's stdin: the payload followed
// by exactly one newline, sent as a single write. The payload must not
// contain a newline of its own.
func (c *Child) WriteLine(data []byte) error {
	if bytes.IndexByte(data, '\n') >= 0 {
		return fmt.Errorf("payload contains embedded newline")
	}

	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()

	if stdin == nil {
		return fmt.Errorf("stdin closed")
	}

	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')

	if _, err := stdin.Write(buf); err != nil {
		return fmt.Errorf("write to process: %w", err)
	}
	return nil
}

// ReadLine reads the next line from the child's stdout, blocking until a
// full line arrives, the stream ends, or ctx is done. The trailing newline
// is stripped. A clean end of stream returns io.EOF; data cut off mid-line
// returns io.ErrUnexpectedEOF.
//
// The spawned goroutine doing ReadString() cannot be cancelled (Go's
// blocking I/O limitation). The channel is buffered so it can always send
// its result even after ctx expires, preventing a goroutine leak; the read
// itself unblocks when the process exits and the pipe closes. After an
// abandoned read the stream position is unknown, so callers must not issue
// another ReadLine on the same session.
func (c *Child) ReadLine(ctx context.Context) (string, error) {
	resultCh := make(chan readResult, 1)

	go func() {
		line, err := c.stdout.ReadString('\n')
		resultCh <- readResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case result := <-resultCh:
		if result.err != nil {
			if result.err == io.EOF {
				if result.line != "" {
					return "", io.ErrUnexpectedEOF
				}
				return "", io.EOF
			}
			return "", result.err
		}
		line := strings.TrimSuffix(result.line, "\n")
		line = strings.TrimSuffix(line, "\r")
		return line, nil
	}
}
