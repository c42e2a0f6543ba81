package host

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/msageha/storebridge/internal/logging"
)

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLogSink(logging.New(&buf, logging.LevelInfo, "sink"))
	require.NoError(t, s.Execute(context.Background(), "say hi"))
	assert.Contains(t, buf.String(), `dry_run command="say hi"`)
}

func TestTmuxSink(t *testing.T) {
	_, err := NewTmuxSink("bad target")
	assert.Error(t, err)

	s, err := NewTmuxSink("mc:console.0")
	require.NoError(t, err)
	var sent []string
	s.check = func(string) error { return nil }
	s.send = func(target, line string) error {
		sent = append(sent, target+"|"+line)
		return nil
	}
	require.NoError(t, s.Execute(context.Background(), " /eco give Bob 100"))
	assert.Equal(t, []string{"mc:console.0| /eco give Bob 100"}, sent, "the command is pasted verbatim")

	s.check = func(target string) error { return errors.New("pane " + target + " is running bash") }
	err = s.Execute(context.Background(), "say hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bash")
	assert.Len(t, sent, 1, "nothing is pasted into a shell")
}

func TestRCONSink(t *testing.T) {
	conn := &fakeExecer{replies: map[string]string{"/lp user Eve parent add vip": "done"}}
	s := NewRCONSink(conn, logging.Discard())

	require.NoError(t, s.Execute(context.Background(), "/lp user Eve parent add vip"))
	require.NoError(t, s.Execute(context.Background(), "say a\nsay b"))
	assert.Equal(t, []string{"/lp user Eve parent add vip", "say a\nsay b"}, conn.calls)

	conn.err = assert.AnError
	assert.ErrorIs(t, s.Execute(context.Background(), "say x"), assert.AnError)
}
