package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/Septikai/obsidian-google-calendar-sync/internal/app"
	"github.com/Septikai/obsidian-google-calendar-sync/internal/config"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "gcalsync",
	Short: "Keep dated notes of an Obsidian vault in sync with a Google calendar",
	Long: `gcalsync reconciles event documents named "YYYY-MM-DD Title.md" with the events of a
Google calendar. Remote changes of date and title rename the document, local renames update the
remote event, and every event description carries a link back to its document.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch the vault, sync periodically and serve the HTTP API",
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, err := app.NewApplication(configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return application.Serve(ctx)
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single full sync pass and exit",
	RunE: func(cmd *cobra.Command, _ []string) error {
		application, err := app.NewApplication(configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return application.Once(ctx)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath, "path of the YAML configuration file")
	rootCmd.AddCommand(serveCmd, syncCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}
