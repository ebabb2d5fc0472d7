package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var (
	cfgFile  string
	logLevel string

	deviceID string
	format   string
	wsURL    string
	duration time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "micstream",
	Short: "Stream microphone audio in encoded chunks",
	Long: `micstream captures a microphone, emits encoded audio chunks and a live
loudness meter, and follows devices as they are plugged in and out.`,
	SilenceUsage: true,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return listDevices(cmd.Context())
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture from the selected microphone",
	Long: `Capture from the selected microphone until interrupted.

Commands on stdin:
  m        toggle mute
  d <id>   switch to device <id>
  l        list devices
  q        quit`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCapture(cmd.Context())
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("micstream %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is the platform config dir)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log_level from the config")

	captureCmd.Flags().StringVar(&deviceID, "device", "", "device id to capture from")
	captureCmd.Flags().StringVar(&format, "format", "", "chunk format (audio/wav or audio/pcm)")
	captureCmd.Flags().StringVar(&wsURL, "ws-url", "", "forward chunks to this websocket url")
	captureCmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")

	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
