// aurus-sync is the command-line client for end-to-end-encrypted
// cross-device state sync: it creates or joins a pairing session over
// the LAN or, when a relay is configured, over WebRTC via that relay.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/joho/godotenv"
	"github.com/pion/logging"
	"github.com/spf13/cobra"

	"github.com/aurus-sync/core/pkg/discovery"
	"github.com/aurus-sync/core/pkg/synccontroller"
)

var (
	configPath string
	deviceName string
	relayURL   string
	noLAN      bool
	verbose    bool
)

func main() {
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "aurus-sync",
		Short: "Pair devices and sync shared state end to end encrypted",
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to a YAML config file")
	root.PersistentFlags().StringVar(&deviceName, "device-name", "", "name shown to the paired peer (defaults to hostname)")
	root.PersistentFlags().StringVar(&relayURL, "relay", "", "signaling relay WebSocket URL, enables WebRTC pairing across networks")
	root.PersistentFlags().BoolVar(&noLAN, "no-lan", false, "disable LAN (mDNS) pairing")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose protocol logging")

	root.AddCommand(createCmd(), joinCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aurus-sync.yaml"
	}
	return filepath.Join(home, ".aurus-sync.yaml")
}

func buildController() (*synccontroller.Controller, error) {
	fcfg, err := loadFileConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if deviceName != "" {
		fcfg.DeviceName = deviceName
	}
	if fcfg.DeviceName == "" {
		fcfg.DeviceName, _ = os.Hostname()
	}
	if relayURL != "" {
		fcfg.RelayURL = relayURL
	}
	if noLAN {
		fcfg.LANPairing = false
	}

	var loggerFactory logging.LoggerFactory
	if verbose {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	var discoveryMgr *discovery.Manager
	if fcfg.LANPairing {
		mgr, err := discovery.NewManager(discovery.ManagerConfig{LoggerFactory: loggerFactory})
		if err != nil {
			return nil, fmt.Errorf("start LAN discovery: %w", err)
		}
		discoveryMgr = mgr
	}

	sink := &consoleSink{}
	ctl := synccontroller.New(synccontroller.Config{
		DeviceName:    fcfg.DeviceName,
		Platform:      fcfg.Platform,
		RelayURL:      fcfg.RelayURL,
		Discovery:     discoveryMgr,
		EventSink:     sink,
		LoggerFactory: loggerFactory,
	})
	return ctl, nil
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Start a new sync session and print a pairing code for another device to join",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctl, err := buildController()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			code, err := ctl.CreateSession(ctx)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}

			fmt.Println(styleTitle.Render("Pairing code"))
			fmt.Println(styleCode.Render(code))
			fmt.Println(styleStatus.Render("Enter this code on the other device with `aurus-sync join`."))

			return runInteractiveSession(ctx, ctl)
		},
	}
}

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join [pairing-code]",
		Short: "Join a session using a pairing code printed by `aurus-sync create`",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code := ""
			if len(args) == 1 {
				code = args[0]
			} else {
				if err := huh.NewInput().
					Title("Pairing code").
					Placeholder("2-amber-falcon").
					Value(&code).
					Run(); err != nil {
					return fmt.Errorf("read pairing code: %w", err)
				}
			}

			ctl, err := buildController()
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			if err := ctl.JoinSession(ctx, code); err != nil {
				return fmt.Errorf("join session: %w", err)
			}

			return runInteractiveSession(ctx, ctl)
		},
	}
}

// runInteractiveSession blocks until ctx is cancelled (Ctrl-C) or stdin
// closes, relaying typed lines as transcript updates in the meantime.
// Leaving by Ctrl-C always tears the session down cleanly.
func runInteractiveSession(ctx context.Context, ctl *synccontroller.Controller) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println(styleStatus.Render("type a line and press enter to sync it as the transcript; Ctrl-C to leave"))

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return ctl.LeaveSession()
		case line, ok := <-lines:
			if !ok {
				return ctl.LeaveSession()
			}
			if err := ctl.UpdateTranscript(line); err != nil {
				fmt.Println(styleError.Render("update failed: " + err.Error()))
			}
		}
	}
}
