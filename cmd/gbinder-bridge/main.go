// Command gbinder-bridge republishes a named service from one binder
// device under another device's service manager, forwarding
// transactions between the two until interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	gobinder "github.com/mjkern/gobinder"
	"github.com/mjkern/gobinder/bridge"
	"github.com/mjkern/gobinder/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error: %v", err))
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		sourceDevice string
		destDevice   string
		sourceName   string
		destName     string
		ifaceCSV     string
		verbose      bool
	)

	cmd := &cobra.Command{
		Use:   "gbinder-bridge",
		Short: "Bridge a binder service from one device onto another",
		Long: "gbinder-bridge opens two binder devices, watches for a named\n" +
			"service on the destination, and republishes it under a (possibly\n" +
			"different) name on the source device, forwarding transactions\n" +
			"between the two for as long as the process runs.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(sourceDevice, destDevice, sourceName, destName, ifaceCSV, verbose)
		},
	}

	cmd.Flags().StringVar(&sourceDevice, "source-device", "/dev/binder", "device to republish the service on")
	cmd.Flags().StringVar(&destDevice, "dest-device", "/dev/binder", "device the real service lives on")
	cmd.Flags().StringVar(&sourceName, "source-name", "", "name to register the proxy under (required)")
	cmd.Flags().StringVar(&destName, "dest-name", "", "name of the real service to watch for (required)")
	cmd.Flags().StringVar(&ifaceCSV, "interfaces", "", "comma-separated interface descriptors the proxy advertises")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")
	cmd.MarkFlagRequired("source-name")
	cmd.MarkFlagRequired("dest-name")

	return cmd
}

func run(sourceDevice, destDevice, sourceName, destName, ifaceCSV string, verbose bool) error {
	logConfig := logging.DefaultConfig()
	if verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	var ifaces []string
	if ifaceCSV != "" {
		ifaces = strings.Split(ifaceCSV, ",")
	}

	sourceDriver, err := gobinder.Open(gobinder.Options{Device: sourceDevice, Logger: logger})
	if err != nil {
		return fmt.Errorf("opening source device %s: %w", sourceDevice, err)
	}
	defer sourceDriver.Close()

	destDriver, err := gobinder.Open(gobinder.Options{Device: destDevice, Logger: logger})
	if err != nil {
		return fmt.Errorf("opening destination device %s: %w", destDevice, err)
	}
	defer destDriver.Close()

	sourceSM := gobinder.NewServiceManager(sourceDriver)
	destSM := gobinder.NewServiceManager(destDriver)

	b := bridge.NewBridge(sourceName, destName, ifaces, sourceDriver, destDriver, sourceSM, destSM)
	defer b.Close()

	color.Green("bridging %s (%s) -> %s (%s) as %q", destName, destDevice, sourceName, sourceDevice, sourceName)
	fmt.Println("Press Ctrl+C to stop...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("received shutdown signal")
	return nil
}
