// Command vitalvoice is a terminal chat client for the VitalVoice health
// guidance backend. Replies stream as PCM audio through ffplay while the
// text reveals in the terminal at typewriter pace; without a speaker the
// reveal still runs.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/kelseyhightower/envconfig"

	"github.com/vitalvoice-ai/vitalvoice-go/internal/dotenv"
	"github.com/vitalvoice-ai/vitalvoice-go/pkg/chat"
	"github.com/vitalvoice-ai/vitalvoice-go/pkg/playback"
	vitalvoice "github.com/vitalvoice-ai/vitalvoice-go/sdk"
)

type envOptions struct {
	BaseURL    string `envconfig:"BASE_URL"`
	Token      string `envconfig:"TOKEN"`
	SampleRate int    `envconfig:"SAMPLE_RATE" default:"24000"`
	PageLimit  int    `envconfig:"PAGE_LIMIT" default:"20"`
}

type options struct {
	baseURL   string
	token     string
	convID    string
	noSpeaker bool
	wsTTS     bool
	pageLimit int
	debug     bool
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = dotenv.Load()

	var env envOptions
	if err := envconfig.Process("VITALVOICE", &env); err != nil {
		fmt.Fprintln(os.Stderr, "read environment:", err)
		return 2
	}

	var opt options
	flag.StringVar(&opt.baseURL, "base-url", env.BaseURL, "Backend base URL (also reads VITALVOICE_BASE_URL)")
	flag.StringVar(&opt.token, "token", env.Token, "Bearer token (also reads VITALVOICE_TOKEN)")
	flag.StringVar(&opt.convID, "conversation", "", "Conversation id to open (default: start a new one)")
	flag.BoolVar(&opt.noSpeaker, "no-speaker", false, "Do not spawn ffplay; reveal text without audio pacing")
	flag.BoolVar(&opt.wsTTS, "ws-tts", false, "Stream reply audio over WebSocket instead of HTTP")
	flag.IntVar(&opt.pageLimit, "page-limit", env.PageLimit, "History page size")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	if strings.TrimSpace(opt.baseURL) == "" && strings.TrimSpace(os.Getenv("VITALVOICE_BASE_URL")) == "" {
		fmt.Fprintln(os.Stderr, "--base-url is required (or set VITALVOICE_BASE_URL)")
		return 2
	}

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	clientOpts := []vitalvoice.ClientOption{
		vitalvoice.WithLogger(logger),
		vitalvoice.WithSampleRate(env.SampleRate),
		vitalvoice.WithHistoryPageSize(opt.pageLimit),
	}
	if strings.TrimSpace(opt.baseURL) != "" {
		clientOpts = append(clientOpts, vitalvoice.WithBaseURL(opt.baseURL))
	}
	if strings.TrimSpace(opt.token) != "" {
		clientOpts = append(clientOpts, vitalvoice.WithToken(opt.token))
	}
	client := vitalvoice.NewClient(clientOpts...)

	cancelWatch := client.Tokens().Subscribe(func(tok string) {
		if tok == "" {
			fmt.Fprintln(os.Stderr, "[auth] session expired; signed out")
		}
	})
	defer cancelWatch()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ui := newTerminalUI()
	pb := playback.Config{Logger: logger}
	if opt.noSpeaker {
		pb.NewSink = func() playback.Sink { return playback.Discard{} }
	} else {
		pb.NewSink = func() playback.Sink {
			return playback.NewFFPlaySpeaker("", env.SampleRate, 0)
		}
	}
	cv := client.NewConversation(opt.convID, vitalvoice.ConversationOptions{
		Playback:        pb,
		UseWebSocketTTS: opt.wsTTS,
		OnStatus:        ui.status,
		OnFragment:      ui.fragment,
	})

	if chat.IsPersistedID(opt.convID) {
		if err := cv.LoadOlder(ctx); err != nil {
			fmt.Fprintln(os.Stderr, "load history:", err)
		} else {
			ui.printHistory(cv.Cache(), cv.ActiveID())
		}
	}

	fmt.Fprintln(os.Stderr, "type a message, or /help for commands")
	return repl(ctx, client, cv, ui)
}

func repl(ctx context.Context, client *vitalvoice.Client, cv *vitalvoice.Conversation, ui *terminalUI) int {
	var (
		sendMu  sync.Mutex
		sending bool
		attach  []chat.Attachment
	)
	send := func(text string) {
		sendMu.Lock()
		if sending {
			sendMu.Unlock()
			fmt.Fprintln(os.Stderr, "a reply is in flight; /stop it first")
			return
		}
		sending = true
		files := attach
		attach = nil
		sendMu.Unlock()
		go func() {
			if err := cv.SendMessage(ctx, text, files); err != nil {
				fmt.Fprintln(os.Stderr, "send failed:", cv.ErrorText())
			}
			sendMu.Lock()
			sending = false
			sendMu.Unlock()
		}()
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return 0
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "/") {
			send(line)
			continue
		}

		cmd, arg, _ := strings.Cut(line, " ")
		arg = strings.TrimSpace(arg)
		switch cmd {
		case "/help":
			printHelp()
		case "/quit", "/exit":
			cv.Stop()
			return 0
		case "/stop":
			cv.Stop()
		case "/new":
			if arg == "" {
				fmt.Fprintln(os.Stderr, "usage: /new <first message>")
				continue
			}
			id, err := cv.BeginConversation(ctx, arg, nil)
			if err != nil {
				fmt.Fprintln(os.Stderr, "new conversation failed:", cv.ErrorText())
				continue
			}
			fmt.Fprintln(os.Stderr, "started conversation", id)
		case "/switch":
			if arg == "" {
				fmt.Fprintln(os.Stderr, "usage: /switch <conversation-id>")
				continue
			}
			if err := cv.Switch(ctx, arg); err != nil {
				fmt.Fprintln(os.Stderr, "switch failed:", err)
				continue
			}
			ui.printHistory(cv.Cache(), cv.ActiveID())
		case "/older":
			if err := cv.LoadOlder(ctx); err != nil {
				fmt.Fprintln(os.Stderr, "load older:", cv.ErrorText())
				continue
			}
			ui.printHistory(cv.Cache(), cv.ActiveID())
		case "/list":
			items, err := client.Chat.List(ctx)
			if err != nil {
				fmt.Fprintln(os.Stderr, "list conversations:", err)
				continue
			}
			for _, it := range items {
				fmt.Printf("%s\t%s\n", it.ID, it.Title)
			}
		case "/rename":
			id, title, ok := strings.Cut(arg, " ")
			if !ok || strings.TrimSpace(title) == "" {
				fmt.Fprintln(os.Stderr, "usage: /rename <conversation-id> <title>")
				continue
			}
			if err := cv.Rename(ctx, id, strings.TrimSpace(title)); err != nil {
				fmt.Fprintln(os.Stderr, "rename failed:", err)
			}
		case "/delete":
			if arg == "" {
				fmt.Fprintln(os.Stderr, "usage: /delete <conversation-id>")
				continue
			}
			if err := cv.Delete(ctx, arg); err != nil {
				fmt.Fprintln(os.Stderr, "delete failed:", err)
			}
		case "/attach":
			if arg == "" {
				fmt.Fprintln(os.Stderr, "usage: /attach <image-path>")
				continue
			}
			data, err := os.ReadFile(arg)
			if err != nil {
				fmt.Fprintln(os.Stderr, "attach failed:", err)
				continue
			}
			sendMu.Lock()
			attach = []chat.Attachment{{Name: filepath.Base(arg), Data: data}}
			sendMu.Unlock()
			fmt.Fprintln(os.Stderr, "attached", filepath.Base(arg), "to the next message")
		case "/transcribe":
			if arg == "" {
				fmt.Fprintln(os.Stderr, "usage: /transcribe <audio-path>")
				continue
			}
			f, err := os.Open(arg)
			if err != nil {
				fmt.Fprintln(os.Stderr, "transcribe failed:", err)
				continue
			}
			text, err := client.Speech.Transcribe(ctx, f, filepath.Base(arg))
			f.Close()
			if err != nil {
				fmt.Fprintln(os.Stderr, "transcribe failed:", err)
				continue
			}
			fmt.Fprintln(os.Stderr, "[transcript]", text)
			send(text)
		default:
			fmt.Fprintln(os.Stderr, "unknown command", cmd, "(/help for commands)")
		}
	}
	return 0
}

func printHelp() {
	fmt.Fprint(os.Stderr, `commands:
  /new <message>          start a new conversation with an opening message
  /switch <id>            open another conversation
  /list                   list conversations
  /older                  load an older history page
  /stop                   cancel the in-flight reply
  /rename <id> <title>    rename a conversation
  /delete <id>            delete a conversation
  /attach <path>          attach an image to the next message
  /transcribe <path>      transcribe an audio file and send it
  /quit                   exit
`)
}

// terminalUI prints typewriter fragments as deltas so the reply appears to
// type itself on one line.
type terminalUI struct {
	mu      sync.Mutex
	printed int
}

func newTerminalUI() *terminalUI {
	return &terminalUI{}
}

func (u *terminalUI) fragment(frag string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	runes := []rune(frag)
	if u.printed > len(runes) {
		u.printed = 0
		fmt.Println()
	}
	fmt.Print(string(runes[u.printed:]))
	u.printed = len(runes)
}

func (u *terminalUI) status(s vitalvoice.BotStatus) {
	u.mu.Lock()
	defer u.mu.Unlock()
	switch s {
	case vitalvoice.StatusReviewing:
		fmt.Fprintln(os.Stderr, "[bot] reviewing...")
	case vitalvoice.StatusReplying:
		u.printed = 0
	case vitalvoice.StatusIdle:
		if u.printed > 0 {
			fmt.Println()
			u.printed = 0
		}
	}
}

func (u *terminalUI) printHistory(cache chat.Cache, id string) {
	conv, ok := cache.Get(id)
	if !ok {
		return
	}
	for _, m := range conv.Messages {
		prefix := "you"
		if m.Role == chat.RoleAssistant {
			prefix = "bot"
		}
		text := m.Text
		if text == "" && len(m.Files) > 0 {
			text = "(image) " + m.Files[0].Preview
		}
		fmt.Printf("[%s] %s\n", prefix, text)
	}
}
