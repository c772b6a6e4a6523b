package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/rickgao/meshlink/internal/connection"
)

// maxLine is the longest stdin line accepted as one frame.
const maxLine = 1 << 20

// pipeInput sends each line of r as a text frame until r is exhausted or ctx
// is cancelled. Messages buffered by the manager are not errors.
func pipeInput(ctx context.Context, r io.Reader, send func(connection.Message) error, logger *slog.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Text()
		if line == "" {
			continue
		}

		err := send(connection.Text(line))
		switch {
		case err == nil:
		case errors.Is(err, connection.ErrQueued):
			logger.Debug("frame queued until connected")
		case errors.Is(err, connection.ErrDisposed):
			return err
		default:
			logger.Warn("send failed", "error", err)
		}
	}
	return scanner.Err()
}

// writeFrame writes one inbound frame to w as a line. Binary frames are
// base64 encoded.
func writeFrame(w io.Writer, msg connection.Message) error {
	var err error
	if msg.Type == connection.BinaryMessage {
		_, err = fmt.Fprintf(w, "%s\n", base64.StdEncoding.EncodeToString(msg.Data))
	} else {
		_, err = fmt.Fprintf(w, "%s\n", msg.Data)
	}
	return err
}
