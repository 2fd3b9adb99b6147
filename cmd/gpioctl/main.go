// gpioctl is an interactive console for a pigpio daemon.
//
// It opens a session against the daemon and reads commands from a
// readline prompt. Type "help" at the prompt for the command list.
//
// Usage:
//
//	gpioctl [-connect tcp://raspberrypi.local:8888] [-trace session.cbor]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-gpio/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-gpio/internal/pigpio"
)

var version = "dev"

func main() {
	connect := flag.String("connect", "tcp://"+pigpio.DefaultAddress, "Daemon connection URL (tcp://, unix://, serial://)")
	timeout := flag.Duration("timeout", 5*time.Second, "Timeout for each daemon exchange")
	tracePath := flag.String("trace", "", "Record every packet to this CBOR trace file")
	logLevel := flag.String("log-level", "warn", "Log level: debug, info, warn, error")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cancel, *connect, *timeout, *tracePath, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cancel context.CancelFunc, connURL string, timeout time.Duration, tracePath, logLevel string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "pigpio> ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
		AutoComplete:    completer,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	// Log lines go through readline so they do not break the prompt.
	log := logging.NewWithWriter(config.LoggingConfig{Level: logLevel, Format: "text"}, version, rl.Stderr())

	dialer, err := pigpio.DialerFromURL(connURL, timeout)
	if err != nil {
		return err
	}
	session := pigpio.NewSession(pigpio.Config{
		Dialer:         dialer,
		ConnectTimeout: timeout,
		IOTimeout:      timeout,
	}, log)

	console := NewConsole(session, rl.Stdout(), timeout)
	defer console.Close()

	if tracePath != "" {
		if err := console.startTrace(tracePath); err != nil {
			return err
		}
	}

	initCtx, initCancel := context.WithTimeout(ctx, timeout)
	daemonVersion, err := session.Initialize(initCtx)
	initCancel()
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", connURL, err)
	}
	fmt.Fprintf(rl.Stdout(), "Connected to %s (pigpio version %d)\n", connURL, daemonVersion)
	fmt.Fprintln(rl.Stdout(), "Type 'help' for commands.")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			// EOF or interrupt
			if err == readline.ErrInterrupt {
				continue
			}
			cancel()
			return nil
		}

		if quit := console.Execute(ctx, line); quit {
			cancel()
			return nil
		}
	}
}

// historyFile keeps readline history next to the user's other dotfiles.
func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".gpioctl_history")
}

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("version"),
	readline.PcItem("hwver"),
	readline.PcItem("tick"),
	readline.PcItem("read"),
	readline.PcItem("write"),
	readline.PcItem("mode",
		readline.PcItem("in"),
		readline.PcItem("out"),
	),
	readline.PcItem("bank"),
	readline.PcItem("notify",
		readline.PcItem("on"),
		readline.PcItem("off"),
	),
	readline.PcItem("events",
		readline.PcItem("on"),
		readline.PcItem("off"),
	),
	readline.PcItem("raw"),
	readline.PcItem("stats"),
	readline.PcItem("trace",
		readline.PcItem("off"),
	),
	readline.PcItem("quit"),
)
