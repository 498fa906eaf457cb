package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"peercord/internal/core/domain"
	"peercord/pkg/utils"
)

// Controller is the slice of the client the console drives.
type Controller interface {
	Login(ctx context.Context, username string) error
	InitiateCall(remoteID string) error
	AcceptCall() error
	RejectCall() error
	EndCall() error
	ToggleMute() error
	ToggleDeafen() error
	ToggleVideo() error
	SetRemoteVolume(v float64) error
	TogglePin(view domain.PinnedView) error
	StartScreenShare(ctx context.Context) error
	StopScreenShare(ctx context.Context) error
	SendChat(text string) error
	ShareImage(fileName, mimeType string, data []byte) error
	SetAvatar(mimeType string, data []byte) error
	StartYoutube(link string) error
	StartMusic() error
	StopActivity() error
	MusicControl(action domain.MusicControl) error
	PlayVideo() error
	PauseVideo() error
	SeekVideo(seconds float64) error
	Snapshot() domain.View
	ChatHistory(ctx context.Context) ([]domain.ChatMessage, error)
}

// Simulator stands in for things a user does outside the app: speaking into
// the microphone or ending a capture from the OS picker.
type Simulator interface {
	SetTalking(talking bool)
	EndDisplayCapture() int
}

var (
	errQuit         = errors.New("quit")
	errUsage        = errors.New("wrong arguments")
	errUnknownInput = errors.New("unknown command, try 'help'")
)

type command struct {
	usage string
	run   func(ctx context.Context, args []string) error
}

// Console reads one command per line and drives the client.
type Console struct {
	client    Controller
	simulator Simulator
	out       io.Writer
	readFile  func(string) ([]byte, error)
	logger    *zap.SugaredLogger
	commands  map[string]command
}

func New(client Controller, simulator Simulator, out io.Writer, logger *zap.SugaredLogger) *Console {
	c := &Console{
		client:    client,
		simulator: simulator,
		out:       out,
		readFile:  os.ReadFile,
		logger:    logger,
	}
	c.commands = c.buildCommands()
	return c
}

// Run processes lines from in until EOF, "quit" or ctx is cancelled.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if err := c.Execute(ctx, line); errors.Is(err, errQuit) {
				return nil
			}
		}
	}
}

// Execute runs a single command line and prints any error.
func (c *Console) Execute(ctx context.Context, line string) error {
	if utils.IsEmpty(line) {
		return nil
	}
	fields := strings.Fields(line)
	name, args := strings.ToLower(fields[0]), fields[1:]

	cmd, ok := c.commands[name]
	if !ok {
		fmt.Fprintf(c.out, "error: %v\n", errUnknownInput)
		return errUnknownInput
	}

	err := cmd.run(ctx, args)
	switch {
	case err == nil, errors.Is(err, errQuit):
	case errors.Is(err, errUsage):
		fmt.Fprintf(c.out, "usage: %s\n", cmd.usage)
	default:
		c.logger.Debugw("command failed", "command", name, "error", err)
		fmt.Fprintf(c.out, "error: %v\n", err)
	}
	return err
}

func (c *Console) buildCommands() map[string]command {
	noArgs := func(fn func() error) func(context.Context, []string) error {
		return func(_ context.Context, args []string) error {
			if len(args) != 0 {
				return errUsage
			}
			return fn()
		}
	}
	oneArg := func(fn func(string) error) func(context.Context, []string) error {
		return func(_ context.Context, args []string) error {
			if len(args) != 1 {
				return errUsage
			}
			return fn(args[0])
		}
	}

	return map[string]command{
		"help":   {"help", noArgs(c.help)},
		"quit":   {"quit", noArgs(func() error { return errQuit })},
		"status": {"status", noArgs(c.status)},
		"login": {"login <username>", func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errUsage
			}
			return c.client.Login(ctx, args[0])
		}},
		"call":   {"call <peer-id>", oneArg(c.client.InitiateCall)},
		"accept": {"accept", noArgs(c.client.AcceptCall)},
		"reject": {"reject", noArgs(c.client.RejectCall)},
		"end":    {"end", noArgs(c.client.EndCall)},
		"mute":   {"mute", noArgs(c.client.ToggleMute)},
		"deafen": {"deafen", noArgs(c.client.ToggleDeafen)},
		"video":  {"video", noArgs(c.client.ToggleVideo)},
		"volume": {"volume <0-1>", oneArg(c.volume)},
		"pin":    {"pin <local|remote|activity|none>", oneArg(c.pin)},
		"screen": {"screen <start|stop|end>", func(ctx context.Context, args []string) error {
			if len(args) != 1 {
				return errUsage
			}
			return c.screen(ctx, args[0])
		}},
		"talk": {"talk <on|off>", oneArg(c.talk)},
		"say": {"say <message>", func(_ context.Context, args []string) error {
			if len(args) == 0 {
				return errUsage
			}
			return c.client.SendChat(strings.Join(args, " "))
		}},
		"image":       {"image <path>", oneArg(c.image)},
		"avatar":      {"avatar <path>", oneArg(c.avatar)},
		"history":     {"history", func(ctx context.Context, _ []string) error { return c.history(ctx) }},
		"youtube":     {"youtube <link>", oneArg(c.client.StartYoutube)},
		"music":       {"music <start|play|pause|next|prev>", oneArg(c.music)},
		"video-play":  {"video-play", noArgs(c.client.PlayVideo)},
		"video-pause": {"video-pause", noArgs(c.client.PauseVideo)},
		"seek":        {"seek <seconds>", oneArg(c.seek)},
		"stop":        {"stop", noArgs(c.client.StopActivity)},
	}
}

func (c *Console) help() error {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.out, "  %s\n", c.commands[name].usage)
	}
	return nil
}

func (c *Console) status() error {
	view := c.client.Snapshot()
	fmt.Fprintf(c.out, "session: %s %s\n", view.Session.Status, view.Session.LocalID)
	fmt.Fprintf(c.out, "call: %s %s\n", view.Phase, view.RemoteID)
	fmt.Fprintf(c.out, "you: %s\n", describeStatus(view.LocalStatus))
	if view.RemoteID != "" {
		fmt.Fprintf(c.out, "%s: %s (volume %.0f%%)\n", view.RemoteID, describeStatus(view.RemoteStatus), view.RemoteVolume*100)
	}
	fmt.Fprintf(c.out, "activity: %s\n", describeActivity(view.Activity))
	return nil
}

func (c *Console) volume(arg string) error {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return errUsage
	}
	return c.client.SetRemoteVolume(v)
}

func (c *Console) pin(arg string) error {
	switch domain.PinnedView(arg) {
	case domain.PinnedLocal, domain.PinnedRemote, domain.PinnedActivity:
		return c.client.TogglePin(domain.PinnedView(arg))
	}
	if arg == "none" {
		current := c.client.Snapshot().Pinned
		if current == domain.PinnedNone {
			return nil
		}
		return c.client.TogglePin(current)
	}
	return errUsage
}

func (c *Console) screen(ctx context.Context, arg string) error {
	switch arg {
	case "start":
		return c.client.StartScreenShare(ctx)
	case "stop":
		return c.client.StopScreenShare(ctx)
	case "end":
		if c.simulator.EndDisplayCapture() == 0 {
			fmt.Fprintln(c.out, "no display capture running")
		}
		return nil
	default:
		return errUsage
	}
}

func (c *Console) talk(arg string) error {
	switch arg {
	case "on":
		c.simulator.SetTalking(true)
	case "off":
		c.simulator.SetTalking(false)
	default:
		return errUsage
	}
	return nil
}

func (c *Console) image(path string) error {
	data, mimeType, err := c.load(path)
	if err != nil {
		return err
	}
	return c.client.ShareImage(filepath.Base(path), mimeType, data)
}

func (c *Console) avatar(path string) error {
	data, mimeType, err := c.load(path)
	if err != nil {
		return err
	}
	return c.client.SetAvatar(mimeType, data)
}

func (c *Console) load(path string) ([]byte, string, error) {
	data, err := c.readFile(path)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", path, err)
	}
	return data, http.DetectContentType(data), nil
}

func (c *Console) history(ctx context.Context) error {
	messages, err := c.client.ChatHistory(ctx)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if msg.Image != nil {
			fmt.Fprintf(c.out, "%s %s: [image %s]\n", msg.CreatedAt.Format("15:04"), msg.Sender, msg.FileName)
			continue
		}
		fmt.Fprintf(c.out, "%s %s: %s\n", msg.CreatedAt.Format("15:04"), msg.Sender, msg.Text)
	}
	return nil
}

func (c *Console) music(arg string) error {
	switch action := domain.MusicControl(arg); action {
	case domain.MusicPlay, domain.MusicPause, domain.MusicNext, domain.MusicPrev:
		return c.client.MusicControl(action)
	}
	if arg == "start" {
		return c.client.StartMusic()
	}
	return errUsage
}

func (c *Console) seek(arg string) error {
	seconds, err := strconv.ParseFloat(arg, 64)
	if err != nil || seconds < 0 {
		return errUsage
	}
	return c.client.SeekVideo(seconds)
}
