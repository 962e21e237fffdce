package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/srg/bluart/internal/groutine"
	"github.com/srg/bluart/pkg/config"
	"github.com/srg/bluart/session"
	"github.com/srg/bluart/uart"
)

// termCmd represents the term command
var termCmd = &cobra.Command{
	Use:   "term <device-address>",
	Short: "Interactive terminal to a UART device",
	Long: `Opens an interactive terminal to the device. Typed lines are sent as
commands, responses and unsolicited notifications print as they arrive.

Up and Down arrows recall previously sent commands. Exit with Ctrl+C,
Ctrl+D, or "exit".`,
	Args: cobra.ExactArgs(1),
	RunE: runTerm,
}

var (
	rxColor   = color.New(color.FgGreen)
	errColor  = color.New(color.FgRed)
	infoColor = color.New(color.FgCyan)
)

func runTerm(cmd *cobra.Command, args []string) error {
	address := args[0]

	logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	settings, err := config.LoadOrDefault(settingsPath(cmd))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		cancel()
	}()

	s := session.New(settings.SessionOptions(), logger)
	defer s.Close()

	progress := NewProgressPrinter(fmt.Sprintf("Connecting to %s", address), "Connecting")
	progress.Start()
	err = s.Connect(ctx, address)
	progress.Stop()
	if err != nil {
		return err
	}

	send, receive := s.Directions()
	infoColor.Printf("Connected to %s (MTU %d, send=%v receive=%v). Ctrl+C to exit.\n",
		address, s.MTU(), send, receive)

	return runTerminal(ctx, cancel, s)
}

// runTerminal pumps responses to the screen while the line editor owns
// stdin. It returns when the user exits or the session dies.
func runTerminal(ctx context.Context, cancel context.CancelFunc, s *session.Session) error {
	// Session loss unblocks the editor through the shared context.
	groutine.Go(ctx, "term-states", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case change, ok := <-s.States():
				if !ok {
					return
				}
				if change.To == session.StateDisconnected {
					errColor.Println("\r\nConnection lost")
					cancel()
					return
				}
			}
		}
	})

	groutine.Go(ctx, "term-responses", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case ex, ok := <-s.Responses():
				if !ok {
					return
				}
				switch ex.Type {
				case uart.ExchangeResolved, uart.ExchangeUnsolicited:
					rxColor.Printf("\r%s\r\n> ", ex.Text)
				case uart.ExchangeFailed:
					errColor.Printf("\rcommand %d failed: %v\r\n> ", ex.Record.Seq, ex.Record.Err)
				}
			}
		}
	})

	if term.IsTerminal(int(os.Stdin.Fd())) {
		return editLoop(ctx, s)
	}
	return pipeLoop(ctx, s)
}

// pipeLoop feeds piped input line by line, for non-interactive stdin.
func pipeLoop(ctx context.Context, s *session.Session) error {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if _, err := s.Send(scanner.Text()); err != nil {
			return err
		}
	}
	// Keep draining responses until interrupted
	<-ctx.Done()
	return scanner.Err()
}

// editLoop is a minimal raw-mode line editor with history recall.
func editLoop(ctx context.Context, s *session.Session) error {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("failed to enter raw mode: %w", err)
	}
	defer term.Restore(fd, oldState) //nolint:errcheck

	input := make(chan byte, 64)
	groutine.Go(ctx, "term-stdin", func(ctx context.Context) {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil || ctx.Err() != nil {
				close(input)
				return
			}
			if n > 0 {
				input <- buf[0]
			}
		}
	})

	var line []byte
	redraw := func() {
		fmt.Printf("\r\033[K> %s", line)
	}
	redraw()

	for {
		var b byte
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Print("\r\n")
			return nil
		case b, ok = <-input:
			if !ok {
				return nil
			}
		}

		switch b {
		case 0x03, 0x04: // Ctrl+C, Ctrl+D
			fmt.Print("\r\n")
			return nil
		case '\r', '\n':
			text := string(line)
			line = line[:0]
			fmt.Print("\r\n")
			if text == "exit" || text == "quit" {
				return nil
			}
			if text != "" {
				if _, err := s.Send(text); err != nil {
					errColor.Printf("%s\r\n", FormatUserError(err))
				}
			}
			redraw()
		case 0x7f, 0x08: // Backspace
			if len(line) > 0 {
				line = line[:len(line)-1]
			}
			redraw()
		case 0x1b: // Escape sequence, arrows arrive as ESC [ A/B
			if next, ok := <-input; ok && next == '[' {
				if dir, ok := <-input; ok {
					switch dir {
					case 'A':
						if prev, ok := s.History().Prev(); ok {
							line = []byte(prev)
						}
					case 'B':
						recalled, _ := s.History().Next()
						line = []byte(recalled)
					}
					redraw()
				}
			}
		default:
			if b >= 0x20 {
				line = append(line, b)
				redraw()
			}
		}
	}
}
