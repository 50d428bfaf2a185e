package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/vango-go/vai-call/pkg/call/branding"
	"github.com/vango-go/vai-call/pkg/call/capture"
	"github.com/vango-go/vai-call/pkg/call/channel"
	"github.com/vango-go/vai-call/pkg/core/types"
	vai "github.com/vango-go/vai-call/sdk"
)

// simulator is the part of *vai.Simulator the front ends drive.
type simulator interface {
	Start(ctx context.Context) error
	Send(ctx context.Context, text string) (types.Message, error)
	StartRecording(ctx context.Context) error
	StopRecording(ctx context.Context) (vai.StopResult, error)
	Play(messageID string) error
	Pause(messageID string)
	SpeakingMessage() string
	Messages() []types.Message
	Header() string
	Brand() branding.Brand
	Status() channel.Status
	Recording() capture.RecordingState
	Events() <-chan vai.Event
}

const lineHelp = `commands: /record  /stop  /play [id]  /pause  /history  /quit
anything else is sent as a message`

// lockedWriter serializes the event printer and the prompt loop.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *lockedWriter) printf(format string, args ...any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fmt.Fprintf(w.w, format, args...)
}

// eventRenderer turns simulator events into transcript lines.
type eventRenderer struct {
	agent string
}

func (r *eventRenderer) render(ev vai.Event) (string, bool) {
	switch ev := ev.(type) {
	case vai.ChannelEvent:
		switch n := ev.Notification.(type) {
		case channel.SessionStarted:
			r.agent = agentLabel(n.Agent)
			return fmt.Sprintf("connected to %s (conversation %s)", n.Agent.DisplayName(), n.SessionID), true
		case channel.AgentChanged:
			r.agent = agentLabel(n.Agent)
			return "now speaking with " + n.Agent.DisplayName(), true
		case channel.MessageAppended:
			if n.Message.Role != types.RoleAssistant {
				return "", false
			}
			line := fmt.Sprintf("%s: %s", r.label(), n.Message.Content)
			if n.Message.HasAudio() {
				line += fmt.Sprintf("  [audio %s]", n.Message.ID)
			}
			return line, true
		case channel.TypingChanged:
			if n.Active {
				return r.label() + " is typing...", true
			}
		case channel.ServerErrorReceived:
			return "server error: " + n.Err.Error(), true
		case channel.TurnAbandoned:
			return "no reply to your last message", true
		case channel.ConnectionLost:
			return "connection lost: " + n.Err.Error(), true
		}
	case vai.TranscriptChanged:
		return "(hearing) " + ev.Text, true
	}
	return "", false
}

func (r *eventRenderer) label() string {
	if r.agent == "" {
		return "agent"
	}
	return r.agent
}

func agentLabel(a types.AgentProfile) string {
	if a.Name == "" {
		return "agent"
	}
	return a.Name
}

func runLineSimulator(ctx context.Context, sim simulator, in io.Reader, out io.Writer) error {
	w := &lockedWriter{w: out}

	printed := make(chan struct{})
	go func() {
		defer close(printed)
		r := &eventRenderer{}
		for ev := range sim.Events() {
			if line, ok := r.render(ev); ok {
				w.printf("%s\n", line)
			}
		}
	}()

	if err := sim.Start(ctx); err != nil {
		return fmt.Errorf("start conversation: %w", err)
	}
	w.printf("%s\n%s\n", sim.Header(), lineHelp)

	lines := readLines(in)

	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case <-printed:
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}
		if line == "" {
			continue
		}
		if quit := handleLine(ctx, sim, line, w); quit {
			w.printf("bye\n")
			return nil
		}
	}
}

// readLines scans in on its own goroutine so the REPL can also watch ctx.
// The goroutine ends with the input.
func readLines(in io.Reader) <-chan string {
	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()
	return lines
}

func handleLine(ctx context.Context, sim simulator, line string, w *lockedWriter) (quit bool) {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		w.printf("%s\n", lineHelp)
	case "/record":
		if err := sim.StartRecording(ctx); err != nil {
			w.printf("record: %v\n", err)
			return false
		}
		w.printf("recording... /stop to send\n")
	case "/stop":
		res, err := sim.StopRecording(ctx)
		switch {
		case err != nil:
			w.printf("send: %v\n", err)
		case res.Recording.Chunks == 0 && !res.Sent:
			w.printf("nothing recorded\n")
		case !res.Sent:
			w.printf("no speech recognized\n")
		default:
			w.printf("you: %s\n", res.Message.Content)
		}
		if res.UploadErr != nil {
			w.printf("recording not saved: %v\n", res.UploadErr)
		}
	case "/play":
		id := arg
		if id == "" {
			id = lastAudioID(sim.Messages())
		}
		if id == "" {
			w.printf("no audio to play\n")
			return false
		}
		if err := sim.Play(id); err != nil {
			w.printf("play: %v\n", err)
		}
	case "/pause":
		if id := sim.SpeakingMessage(); id != "" {
			sim.Pause(id)
		}
	case "/history":
		for _, m := range sim.Messages() {
			w.printf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Content)
		}
	default:
		if strings.HasPrefix(cmd, "/") {
			w.printf("unknown command %s\n%s\n", cmd, lineHelp)
			return false
		}
		if _, err := sim.Send(ctx, line); err != nil {
			w.printf("send: %v\n", err)
		}
	}
	return false
}

func lastAudioID(msgs []types.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == types.RoleAssistant && msgs[i].HasAudio() {
			return msgs[i].ID
		}
	}
	return ""
}
