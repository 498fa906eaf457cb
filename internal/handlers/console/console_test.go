package console

import (
	"bytes"
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"peercord/internal/core/domain"
)

type fakeController struct {
	calls []string
	err   error
	view  domain.View
	chat  []domain.ChatMessage
	image []byte
	mime  string
}

func (f *fakeController) record(call string) error {
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeController) Login(_ context.Context, u string) error { return f.record("login " + u) }
func (f *fakeController) InitiateCall(id string) error            { return f.record("call " + id) }
func (f *fakeController) AcceptCall() error                       { return f.record("accept") }
func (f *fakeController) RejectCall() error                       { return f.record("reject") }
func (f *fakeController) EndCall() error                          { return f.record("end") }
func (f *fakeController) ToggleMute() error                       { return f.record("mute") }
func (f *fakeController) ToggleDeafen() error                     { return f.record("deafen") }
func (f *fakeController) ToggleVideo() error                      { return f.record("video") }
func (f *fakeController) StartMusic() error                       { return f.record("music start") }
func (f *fakeController) StopActivity() error                     { return f.record("stop") }
func (f *fakeController) PlayVideo() error                        { return f.record("video play") }
func (f *fakeController) PauseVideo() error                       { return f.record("video pause") }
func (f *fakeController) SendChat(text string) error              { return f.record("say " + text) }
func (f *fakeController) StartYoutube(link string) error          { return f.record("youtube " + link) }
func (f *fakeController) Snapshot() domain.View                   { return f.view }

func (f *fakeController) SetRemoteVolume(v float64) error {
	return f.record("volume " + formatFloat(v))
}

func (f *fakeController) TogglePin(view domain.PinnedView) error {
	return f.record("pin " + string(view))
}

func (f *fakeController) StartScreenShare(context.Context) error { return f.record("screen start") }
func (f *fakeController) StopScreenShare(context.Context) error  { return f.record("screen stop") }

func (f *fakeController) ShareImage(fileName, mimeType string, data []byte) error {
	f.image, f.mime = data, mimeType
	return f.record("image " + fileName)
}

func (f *fakeController) SetAvatar(mimeType string, data []byte) error {
	f.image, f.mime = data, mimeType
	return f.record("avatar")
}

func (f *fakeController) MusicControl(action domain.MusicControl) error {
	return f.record("music " + string(action))
}

func (f *fakeController) SeekVideo(seconds float64) error {
	return f.record("seek " + formatFloat(seconds))
}

func (f *fakeController) ChatHistory(context.Context) ([]domain.ChatMessage, error) {
	return f.chat, f.err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

type fakeSimulator struct {
	talking bool
	ended   int
}

func (s *fakeSimulator) SetTalking(t bool) { s.talking = t }

func (s *fakeSimulator) EndDisplayCapture() int {
	n := s.ended
	s.ended = 0
	return n
}

func newTestConsole(t *testing.T) (*Console, *fakeController, *fakeSimulator, *bytes.Buffer) {
	client := &fakeController{}
	sim := &fakeSimulator{}
	out := &bytes.Buffer{}
	c := New(client, sim, out, zaptest.NewLogger(t).Sugar())
	c.readFile = func(path string) ([]byte, error) {
		if path == "missing.png" {
			return nil, errors.New("no such file")
		}
		return []byte("\x89PNG\r\n\x1a\n0000"), nil
	}
	return c, client, sim, out
}

func TestConsole_DispatchesCommands(t *testing.T) {
	c, client, _, _ := newTestConsole(t)
	ctx := context.Background()

	for _, line := range []string{
		"login alice",
		"call bob-1234",
		"accept",
		"MUTE",
		"volume 0.5",
		"pin remote",
		"screen start",
		"say hello   there",
		"youtube https://youtu.be/dQw4w9WgXcQ",
		"music next",
		"music start",
		"seek 42",
		"video-play",
		"stop",
		"end",
	} {
		require.NoError(t, c.Execute(ctx, line), line)
	}

	assert.Equal(t, []string{
		"login alice",
		"call bob-1234",
		"accept",
		"mute",
		"volume 0.5",
		"pin remote",
		"screen start",
		"say hello there",
		"youtube https://youtu.be/dQw4w9WgXcQ",
		"music next",
		"music start",
		"seek 42",
		"video play",
		"stop",
		"end",
	}, client.calls)
}

func TestConsole_UsageAndErrors(t *testing.T) {
	c, client, _, out := newTestConsole(t)
	ctx := context.Background()

	assert.NoError(t, c.Execute(ctx, "   "))
	assert.ErrorIs(t, c.Execute(ctx, "dance"), errUnknownInput)
	assert.ErrorIs(t, c.Execute(ctx, "call"), errUsage)
	assert.ErrorIs(t, c.Execute(ctx, "volume loud"), errUsage)
	assert.ErrorIs(t, c.Execute(ctx, "music shuffle"), errUsage)
	assert.ErrorIs(t, c.Execute(ctx, "seek -1"), errUsage)
	assert.Contains(t, out.String(), "usage: call <peer-id>")
	assert.Empty(t, client.calls)

	client.err = domain.ErrNoActiveCall
	assert.ErrorIs(t, c.Execute(ctx, "end"), domain.ErrNoActiveCall)
	assert.Contains(t, out.String(), "error: no active call")
}

func TestConsole_PinNoneUnpinsCurrent(t *testing.T) {
	c, client, _, _ := newTestConsole(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "pin none"))
	assert.Empty(t, client.calls)

	client.view.Pinned = domain.PinnedActivity
	require.NoError(t, c.Execute(ctx, "pin none"))
	assert.Equal(t, []string{"pin activity"}, client.calls)
}

func TestConsole_Simulation(t *testing.T) {
	c, _, sim, out := newTestConsole(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "talk on"))
	assert.True(t, sim.talking)
	require.NoError(t, c.Execute(ctx, "talk off"))
	assert.False(t, sim.talking)

	require.NoError(t, c.Execute(ctx, "screen end"))
	assert.Contains(t, out.String(), "no display capture running")

	sim.ended = 1
	out.Reset()
	require.NoError(t, c.Execute(ctx, "screen end"))
	assert.Empty(t, out.String())
}

func TestConsole_Files(t *testing.T) {
	c, client, _, _ := newTestConsole(t)
	ctx := context.Background()

	require.NoError(t, c.Execute(ctx, "image pics/cat.png"))
	assert.Equal(t, "image cat.png", client.calls[0])
	assert.Equal(t, "image/png", client.mime)

	require.NoError(t, c.Execute(ctx, "avatar me.png"))
	assert.Equal(t, "avatar", client.calls[1])

	assert.Error(t, c.Execute(ctx, "image missing.png"))
	assert.Len(t, client.calls, 2)
}

func TestConsole_History(t *testing.T) {
	c, client, _, out := newTestConsole(t)
	at := time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)
	client.chat = []domain.ChatMessage{
		{Sender: "alice", Text: "hi", CreatedAt: at},
		{Sender: "bob", Image: &domain.Blob{MIMEType: "image/png"}, FileName: "cat.png", CreatedAt: at},
	}

	require.NoError(t, c.Execute(context.Background(), "history"))
	assert.Equal(t, "09:30 alice: hi\n09:30 bob: [image cat.png]\n", out.String())
}

func TestConsole_RunStopsOnQuit(t *testing.T) {
	c, client, _, _ := newTestConsole(t)

	err := c.Run(context.Background(), strings.NewReader("accept\nquit\nreject\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"accept"}, client.calls)
}

func TestConsole_RunStopsAtEOF(t *testing.T) {
	c, client, _, _ := newTestConsole(t)

	require.NoError(t, c.Run(context.Background(), strings.NewReader("mute\ndeafen")))
	assert.Equal(t, []string{"mute", "deafen"}, client.calls)
}
