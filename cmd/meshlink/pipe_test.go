package main

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/meshlink/internal/connection"
)

func TestPipeInput(t *testing.T) {
	var sent []string
	send := func(msg connection.Message) error {
		sent = append(sent, string(msg.Data))
		require.Equal(t, connection.TextMessage, msg.Type)
		if len(sent) == 2 {
			return connection.ErrQueued
		}
		return nil
	}

	in := strings.NewReader("{\"action\":\"ping\"}\n\nsecond\nthird")
	err := pipeInput(context.Background(), in, send, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, []string{`{"action":"ping"}`, "second", "third"}, sent)
}

func TestPipeInput_StopsWhenDisposed(t *testing.T) {
	calls := 0
	send := func(connection.Message) error {
		calls++
		return connection.ErrDisposed
	}

	err := pipeInput(context.Background(), strings.NewReader("a\nb\nc\n"), send, slog.Default())
	assert.ErrorIs(t, err, connection.ErrDisposed)
	assert.Equal(t, 1, calls)
}

func TestPipeInput_SendErrorsContinue(t *testing.T) {
	calls := 0
	send := func(connection.Message) error {
		calls++
		return errors.New("send: broken pipe")
	}

	err := pipeInput(context.Background(), strings.NewReader("a\nb\n"), send, slog.Default())
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestPipeInput_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := pipeInput(ctx, strings.NewReader("a\n"), func(connection.Message) error {
		t.Error("send after cancel")
		return nil
	}, slog.Default())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestWriteFrame(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeFrame(&buf, connection.Text("hello")))
	require.NoError(t, writeFrame(&buf, connection.Binary([]byte{0x01, 0x02, 0xff})))

	assert.Equal(t, "hello\nAQL/\n", buf.String())
}
