package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/lisuiheng/soundwave-go/core"
	"github.com/lisuiheng/soundwave-go/logger"
	"github.com/lisuiheng/soundwave-go/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

func main() {
	// 命令行参数
	configPath := flag.String("config", "", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 交互模式下日志写文件或 stderr，避免打乱提示符
	logCfg := logger.Config{Level: "warn", Format: cfg.Logging.Format, Outputs: []string{"stderr"}}
	if *debug {
		logCfg.Level = "debug"
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := core.Open(ctx, cfg, metrics.New(prometheus.NewRegistry()), logger.Logger())
	if err != nil {
		fmt.Printf("%s Failed to connect: %v\n", red("✗"), err)
		os.Exit(1)
	}
	defer func() {
		if err := session.Close(); err != nil {
			fmt.Printf("%s Close: %v\n", red("✗"), err)
		}
	}()

	go func() {
		if err := session.Run(ctx); err != nil {
			logger.Error("Session stopped", "error", err)
		}
	}()

	startInteractive(ctx, session)
}

// startInteractive is the only goroutine that writes to the console: typed
// commands and session events are both handled here.
func startInteractive(ctx context.Context, session *core.Session) {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	printHelp()
	prompt()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-session.Events():
			printEvent(ev)
		case input, ok := <-lines:
			if !ok {
				return
			}
			if quit := execute(ctx, session, strings.TrimSpace(input)); quit {
				return
			}
			prompt()
		}
	}
}

func execute(ctx context.Context, session *core.Session, input string) bool {
	if input == "" {
		return false
	}
	cmd, arg, _ := strings.Cut(input, " ")

	switch cmd {
	case "listen", "start":
		if err := session.StartCapture(ctx); err != nil {
			fmt.Printf("%s Error: %v\n", red("✗"), err)
		}
	case "stop":
		session.StopCapture()
	case "send":
		sendCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := session.Send(sendCtx, strings.TrimSpace(arg)); err != nil {
			fmt.Printf("%s Error: %v\n", red("✗"), err)
		}
	case "cancel":
		session.StopPlayback()
	case "status":
		st := session.Status()
		fmt.Println("\nCurrent Status:")
		fmt.Printf("  Backend:  %s (half duplex: %v)\n", st.Backend, st.HalfDuplex)
		fmt.Printf("  Capture:  %s\n", st.Capture)
		fmt.Printf("  Playback: %s %d/%d ms\n", st.Playback, st.ProgressMS, st.DurationMS)
	case "exit", "quit":
		fmt.Println("Exiting...")
		return true
	case "help":
		printHelp()
	default:
		fmt.Printf("%s Unknown command: %s\n", red("✗"), cmd)
		printHelp()
	}
	return false
}

func printEvent(ev core.Event) {
	switch ev.Type {
	case core.EventCaptureStarted:
		fmt.Printf("\n%s Listening\n", green("✓"))
	case core.EventCaptureStopped:
		fmt.Printf("\n%s Stopped listening\n", green("✓"))
	case core.EventPlaybackStarted:
		fmt.Printf("\n%s Transmitting %d samples\n", green("✓"), ev.Samples)
	case core.EventPlaybackProgress:
		fmt.Printf("\r%s %d ms", yellow("▶"), ev.Progress)
		return
	case core.EventPlaybackCompleted:
		fmt.Printf("\n%s Sent (%d ms)\n", green("✓"), ev.Progress)
	case core.EventPlaybackStopped:
		fmt.Printf("\n%s Transmission cancelled at %d ms\n", yellow("!"), ev.Progress)
	case core.EventPlaybackError, core.EventCaptureError:
		fmt.Printf("\n%s %s: %v\n", red("✗"), ev.Type, ev.Err)
	case core.EventMessage:
		fmt.Printf("\n%s %s\n", blue("⇐"), ev.Message)
	}
	prompt()
}

func prompt() {
	fmt.Printf("%s ", blue("soundwave>"))
}

func printHelp() {
	fmt.Println("\nAvailable commands:")
	fmt.Println("  listen      - Start capturing and decoding")
	fmt.Println("  stop        - Stop capturing")
	fmt.Println("  send <text> - Transmit a message")
	fmt.Println("  cancel      - Stop the current transmission")
	fmt.Println("  status      - Show current status")
	fmt.Println("  exit/quit   - Exit the program")
	fmt.Println("  help        - Show this help message")
}
