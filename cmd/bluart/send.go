package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/pkg/config"
	"github.com/srg/bluart/session"
	"github.com/srg/bluart/uart"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <device-address> <command>...",
	Short: "Send one command and print the response",
	Long: `Connects to the device, sends a single command over the UART channel,
waits for the correlated response and prints it. Unsolicited lines that
arrive while waiting are printed too. Extra arguments join into one
space-separated command.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var (
	sendTimeout time.Duration
	sendNoWait  bool
)

func init() {
	sendCmd.Flags().DurationVarP(&sendTimeout, "timeout", "t", 5*time.Second, "How long to wait for the response")
	sendCmd.Flags().BoolVar(&sendNoWait, "no-wait", false, "Fire and forget, do not wait for a response")
}

func runSend(cmd *cobra.Command, args []string) error {
	address, command := args[0], strings.Join(args[1:], " ")

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

	progress := NewProgressPrinter(fmt.Sprintf("Sending to %s", address), "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	_, err = session.Run(ctx, address, settings.SessionOptions(), logger, progress.Callback(),
		func(s *session.Session) (struct{}, error) {
			progress.Stop()
			return struct{}{}, sendAndWait(ctx, s, command)
		})
	return err
}

// sendAndWait sends the command and consumes the response stream until
// the command resolves, fails, or the wait times out.
func sendAndWait(ctx context.Context, s *session.Session, command string) error {
	responses := s.Responses()

	seq, err := s.Send(command)
	if err != nil {
		return err
	}
	if sendNoWait {
		return nil
	}

	deadline := time.NewTimer(sendTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("no response within %s", sendTimeout)
		case ex, ok := <-responses:
			if !ok {
				return gatt.ErrChannelClosed
			}
			switch ex.Type {
			case uart.ExchangeResolved:
				if ex.Record.Seq == seq {
					fmt.Println(ex.Text)
					return nil
				}
			case uart.ExchangeFailed:
				if ex.Record.Seq == seq {
					return ex.Record.Err
				}
			case uart.ExchangeUnsolicited:
				fmt.Println(ex.Text)
			}
		}
	}
}
