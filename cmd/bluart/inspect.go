package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/srg/bluart/internal/gatt"
	"github.com/srg/bluart/pkg/config"
	"github.com/srg/bluart/session"
)

// inspectCmd represents the inspect command
var inspectCmd = &cobra.Command{
	Use:   "inspect <device-address>",
	Short: "Inspect services and the resolved UART channels of a BLE device",
	Long: `Connects to a BLE device by address, discovers its GATT services and
characteristics, and reports which channels the UART engine resolved:
the write and notify characteristics, the negotiated MTU, and the
directions data can flow.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var inspectJSON bool

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON")
}

func runInspect(cmd *cobra.Command, args []string) error {
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

	progress := NewProgressPrinter(fmt.Sprintf("Inspecting device %s", address), "Connecting", "Processing results", "Failed")
	progress.Start()
	defer progress.Stop()

	report, err := session.Run(context.Background(), address, settings.SessionOptions(), logger, progress.Callback(),
		func(s *session.Session) (*inspectReport, error) {
			return buildInspectReport(s), nil
		})
	progress.Stop()
	if err != nil {
		return err
	}

	if inspectJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(report)
	}
	return displayInspectReport(os.Stdout, report)
}

// inspectReport is the flattened GATT view of one connected device.
type inspectReport struct {
	Address  string           `json:"address"`
	Name     string           `json:"name,omitempty"`
	MTU      int              `json:"mtu"`
	Channels inspectChannels  `json:"channels"`
	Services []inspectService `json:"services"`
}

type inspectChannels struct {
	Write        string `json:"write,omitempty"`
	Notify       string `json:"notify,omitempty"`
	WriteNoRsp   bool   `json:"write_without_response"`
	CanSend      bool   `json:"can_send"`
	CanReceive   bool   `json:"can_receive"`
	SubscribeErr string `json:"subscribe_error,omitempty"`
}

type inspectService struct {
	UUID            string                  `json:"uuid"`
	Name            string                  `json:"name,omitempty"`
	Primary         bool                    `json:"primary"`
	Characteristics []inspectCharacteristic `json:"characteristics"`
}

type inspectCharacteristic struct {
	UUID       string   `json:"uuid"`
	Name       string   `json:"name,omitempty"`
	Properties []string `json:"properties"`
}

func buildInspectReport(s *session.Session) *inspectReport {
	report := &inspectReport{
		Address: s.Peripheral().Address(),
		Name:    s.Peripheral().Name(),
		MTU:     s.MTU(),
	}

	if ch := s.Channels(); ch != nil {
		if ch.Write != nil {
			report.Channels.Write = ch.Write.UUID()
		}
		if ch.Notify != nil {
			report.Channels.Notify = ch.Notify.UUID()
		}
		report.Channels.WriteNoRsp = ch.WriteNoRsp
		if ch.SubscribeErr != nil {
			report.Channels.SubscribeErr = ch.SubscribeErr.Error()
		}
	}
	report.Channels.CanSend, report.Channels.CanReceive = s.Directions()

	if link := s.Link(); link != nil {
		for _, svc := range link.Services() {
			entry := inspectService{
				UUID:    svc.UUID(),
				Name:    svc.KnownName(),
				Primary: svc.Primary(),
			}
			for _, char := range svc.Characteristics() {
				entry.Characteristics = append(entry.Characteristics, inspectCharacteristic{
					UUID:       char.UUID(),
					Name:       char.KnownName(),
					Properties: propertyNames(char.Properties()),
				})
			}
			report.Services = append(report.Services, entry)
		}
	}
	return report
}

func propertyNames(props gatt.Properties) []string {
	if props == nil {
		return nil
	}
	var names []string
	for _, p := range []gatt.Property{
		props.Broadcast(), props.Read(), props.Write(),
		props.WriteWithoutResponse(), props.Notify(), props.Indicate(),
	} {
		if p != nil {
			names = append(names, p.KnownName())
		}
	}
	return names
}

func displayInspectReport(w io.Writer, report *inspectReport) error {
	name := report.Name
	if name == "" {
		name = "(unknown)"
	}
	fmt.Fprintf(w, "Device:  %s (%s)\n", name, report.Address)
	fmt.Fprintf(w, "MTU:     %d bytes (%d usable per write)\n", report.MTU, report.MTU-3)

	fmt.Fprintln(w, "\nUART channels:")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "  write\t%s\n", orNone(report.Channels.Write))
	fmt.Fprintf(tw, "  notify\t%s\n", orNone(report.Channels.Notify))
	fmt.Fprintf(tw, "  send/receive\t%v/%v\n", report.Channels.CanSend, report.Channels.CanReceive)
	if report.Channels.WriteNoRsp {
		fmt.Fprintln(tw, "  write mode\twithout response")
	}
	if report.Channels.SubscribeErr != "" {
		fmt.Fprintf(tw, "  subscribe error\t%s\n", report.Channels.SubscribeErr)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(w, "\nServices:")
	for _, svc := range report.Services {
		label := svc.UUID
		if svc.Name != "" {
			label = fmt.Sprintf("%s (%s)", svc.UUID, svc.Name)
		}
		kind := "secondary"
		if svc.Primary {
			kind = "primary"
		}
		fmt.Fprintf(w, "  %s [%s]\n", label, kind)
		for _, char := range svc.Characteristics {
			charLabel := char.UUID
			if char.Name != "" {
				charLabel = fmt.Sprintf("%s (%s)", char.UUID, char.Name)
			}
			fmt.Fprintf(w, "    %s  [%s]\n", charLabel, strings.Join(char.Properties, " "))
		}
	}
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
