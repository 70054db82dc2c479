package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/petems/soundstream/internal/app"
	"github.com/petems/soundstream/internal/audio"
	"github.com/petems/soundstream/internal/config"
	"github.com/petems/soundstream/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "soundstream",
	Short: "Microphone capture service",
	Long: `soundstream captures 16-bit PCM from the microphone and streams it to a
connected host application over a websocket method/event channel.`,
	SilenceUsage: true,
	RunE:         runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the capture channel (default)",
	RunE:  runServe,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		log := logging.NewWithLevel(cfg.LogLevel)

		device, err := audio.New(cfg.Audio, log)
		if err != nil {
			return err
		}
		defer device.Close()

		devices, err := device.ListDevices()
		if err != nil {
			return err
		}
		for _, d := range devices {
			marker := " "
			if d.Default {
				marker = "*"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", marker, d.Name)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "soundstream %s (%s)\n", Version, Commit)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(versionCmd)

	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file path")
	rootCmd.PersistentFlags().String("log-level", "", "Override the configured log level")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log := logging.NewWithLevel(cfg.LogLevel)

	device, err := audio.New(cfg.Audio, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize audio")
		return err
	}

	application, err := app.New(app.Config{
		Device: device,
		Config: cfg,
		Logger: log,
	})
	if err != nil {
		device.Close()
		return err
	}

	log.Info().Str("version", Version).Str("commit", Commit).Str("config", cfg.Path()).Msg("soundstream starting...")

	// Setup shutdown signal handling
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Channel error")
		return err
	}
	log.Info().Msg("Shut down")
	return nil
}
