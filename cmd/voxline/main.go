package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/voxline/voxline/internal/dotenv"
	"github.com/voxline/voxline/pkg/live"
	"github.com/voxline/voxline/pkg/voice"
)

const meterWidth = 24

type options struct {
	model       string
	voice       string
	system      string
	video       string
	host        string
	micCmd      string
	accessToken string
	noSpeaker   bool
	noMeter     bool
	debug       bool
	listVoices  bool
}

type styles struct {
	user   lipgloss.Style
	model  lipgloss.Style
	notice lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	meter  lipgloss.Style
}

func newStyles() styles {
	return styles{
		user:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00b7ff")),
		model:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00ff9f")),
		notice: lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("#ffcc00")),
		fail:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff5555")),
		meter:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff9f")),
	}
}

func main() {
	os.Exit(runMain())
}

func runMain() int {
	_ = dotenv.Load()

	var opt options
	flag.StringVar(&opt.model, "model", "", "Live model identifier (default: "+live.DefaultModel+")")
	flag.StringVar(&opt.voice, "voice", "", "Reply voice preset (see -list-voices)")
	flag.StringVar(&opt.system, "system", "", "System instruction for the session")
	flag.StringVar(&opt.video, "video", "off", "Video modality: off, camera, or screen")
	flag.StringVar(&opt.host, "host", "", "Override the remote API host")
	flag.StringVar(&opt.micCmd, "mic-cmd", "", "Override mic capture command (runs via /bin/sh -lc; must write s16le/16kHz/mono to stdout)")
	flag.StringVar(&opt.accessToken, "access-token", "", "Ephemeral access token (also reads VOXLINE_ACCESS_TOKEN)")
	flag.BoolVar(&opt.noSpeaker, "no-speaker", false, "Do not spawn ffplay; replies are scheduled but not audible")
	flag.BoolVar(&opt.noMeter, "no-meter", false, "Disable the input volume meter line")
	flag.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	flag.BoolVar(&opt.listVoices, "list-voices", false, "List the known voice presets and exit")
	flag.Parse()

	switch voice.VideoMode(opt.video) {
	case voice.VideoOff, voice.VideoCamera, voice.VideoScreen:
	default:
		fmt.Fprintf(os.Stderr, "unknown -video mode %q (want off, camera, or screen)\n", opt.video)
		return 2
	}

	if opt.listVoices {
		for _, v := range live.Voices {
			fmt.Println(v)
		}
		return 0
	}

	level := slog.LevelWarn
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	apiKey := strings.TrimSpace(os.Getenv("VOXLINE_API_KEY"))
	if apiKey == "" {
		apiKey = strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	}
	accessToken := strings.TrimSpace(opt.accessToken)
	if accessToken == "" {
		accessToken = strings.TrimSpace(os.Getenv("VOXLINE_ACCESS_TOKEN"))
	}

	st := newStyles()
	meterOn := !opt.noMeter

	printLine := func(line string) {
		if meterOn {
			// Clear the meter line before printing over it.
			fmt.Print("\r\033[K")
		}
		fmt.Println(line)
	}

	ctrlOpts := voice.Options{
		Live: live.Config{
			Model:             opt.model,
			Voice:             opt.voice,
			SystemInstruction: opt.system,
			InputTranscripts:  true,
			OutputTranscripts: true,
			Host:              opt.host,
			APIKey:            apiKey,
			AccessToken:       accessToken,
		},
		Video:      voice.VideoMode(opt.video),
		MicCommand: opt.micCmd,
		Logger:     logger,
		OnEntry: func(e voice.Entry) {
			label := st.user.Render("you")
			if e.Role == voice.RoleModel {
				label = st.model.Render("model")
			}
			printLine(fmt.Sprintf("%s %s  %s", st.notice.Render(e.Time.Format("15:04:05")), label, e.Text))
		},
		OnNotice: func(n voice.Notice) {
			style := st.notice
			switch n.Level {
			case voice.NoticeWarn:
				style = st.warn
			case voice.NoticeError:
				style = st.fail
			}
			printLine(style.Render("* " + n.Text))
		},
	}
	if opt.noSpeaker {
		ctrlOpts.NewSink = func() (voice.Sink, error) { return nullSink{}, nil }
	}

	ctrl := voice.NewController(ctrlOpts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Connect(ctx); err != nil {
		return 1
	}
	defer ctrl.Disconnect()

	printLine(st.notice.Render("speak into the microphone; /interrupt cuts the reply short, /quit ends the session"))

	if meterOn {
		go renderMeter(ctx, ctrl, st)
	}

	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			switch strings.TrimSpace(scanner.Text()) {
			case "/interrupt":
				ctrl.Interrupt()
			case "/quit", "/end", "/q":
				stop()
				return
			}
		}
		stop()
	}()

	// Run until a signal, a /quit command, or the session ends on its own.
	for {
		select {
		case <-ctx.Done():
			if meterOn {
				fmt.Print("\r\033[K")
			}
			return 0
		case <-time.After(200 * time.Millisecond):
			if s := ctrl.State(); s == voice.StateDisconnected || s == voice.StateError {
				if meterOn {
					fmt.Print("\r\033[K")
				}
				if s == voice.StateError {
					return 1
				}
				return 0
			}
		}
	}
}

// renderMeter redraws the input volume meter in place a few times per
// second while the session is up.
func renderMeter(ctx context.Context, ctrl *voice.Controller, st styles) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctrl.State() != voice.StateConnected {
				continue
			}
			value := ctrl.Visualizer().Tick()
			filled := int(value * meterWidth)
			if filled > meterWidth {
				filled = meterWidth
			}
			bar := strings.Repeat("█", filled) + strings.Repeat("░", meterWidth-filled)
			fmt.Printf("\r%s %s", st.notice.Render("mic"), st.meter.Render(bar))
		}
	}
}

// nullSink discards reply audio while keeping the playback timeline
// running, for machines without ffplay.
type nullSink struct{}

func (nullSink) Play([]byte) error { return nil }
func (nullSink) Flush() error      { return nil }
func (nullSink) Close() error      { return nil }
