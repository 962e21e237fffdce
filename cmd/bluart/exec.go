package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/srg/bluart/internal/script"
	"github.com/srg/bluart/pkg/config"
	"github.com/srg/bluart/registry"
)

// execCmd represents the exec command
var execCmd = &cobra.Command{
	Use:   "exec <script.lua>",
	Short: "Run a Lua automation script",
	Long: `Runs a Lua script against the session engine. Scripts use the bluart
table to scan, connect, send commands and wait for responses:

  local devices = bluart.scan(5)
  local dev = bluart.connect(arg["address"])
  dev:send("AT+VERSION")
  print(dev:expect("^OK", 2000))
  dev:close()

Arguments passed with --arg key=value appear in the script's arg table.`,
	Args: cobra.ExactArgs(1),
	RunE: runExec,
}

var execArgs []string

func init() {
	execCmd.Flags().StringArrayVarP(&execArgs, "arg", "a", nil, "Script argument as key=value (repeatable)")
}

func runExec(cmd *cobra.Command, args []string) error {
	path := args[0]

	scriptArgs := make(map[string]string, len(execArgs))
	for _, kv := range execArgs {
		key, value, found := strings.Cut(kv, "=")
		if !found || key == "" {
			return fmt.Errorf("invalid --arg %q: expected key=value", kv)
		}
		scriptArgs[key] = value
	}

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

	scanOpts := registry.DefaultScanOptions()
	scanOpts.Duration = settings.ScanDuration.Std()

	return script.RunFile(ctx, path, &script.Options{
		Logger:  logger,
		Session: settings.SessionOptions(),
		Scan:    scanOpts,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Args:    scriptArgs,
	})
}
