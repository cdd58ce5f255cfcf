package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/msto63/mSW/internal/serve"
	"github.com/msto63/mSW/internal/store"
	"github.com/msto63/mSW/pkg/core/health"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Startet den Transkriptionsserver",
	Long: `Startet den meinSPRACHWERK Transkriptionsserver.

Endpunkte:
  POST /v1/audio/transcriptions    - Transkription (multipart oder WAV-Body)
  POST /v1/audio/translations      - Übersetzung nach Englisch
  GET  /ws/v1/audio/transcriptions - Live-Transkription (WebSocket)
  GET  /v1/transcripts             - Archiv durchsuchen
  GET  /health                     - Health Check

Beispiele:
  msw serve
  msw serve --port 50070`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port (überschreibt die Config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()

	tr, err := newLocalTranscriber(cfg)
	if err != nil {
		printError("Pipeline konnte nicht erstellt werden", err)
		return err
	}

	srvCfg := serve.DefaultConfig()
	if cfg.Server.Port != 0 {
		srvCfg.Port = cfg.Server.Port
		srvCfg.Host = cfg.Server.Host
		srvCfg.ReadTimeout = cfg.Server.ReadTimeout.Duration
		srvCfg.WriteTimeout = cfg.Server.WriteTimeout.Duration
		srvCfg.MaxUploadBytes = cfg.Server.MaxUploadSize
	}
	if servePort != 0 {
		srvCfg.Port = servePort
	}

	var archive store.TranscriptStore
	if cfg.Store.Enabled {
		s, err := store.NewSQLiteStore(store.Config{Path: cfg.Store.Path})
		if err != nil {
			printError("Archiv konnte nicht geöffnet werden", err)
			return err
		}
		defer s.Close()
		archive = s

		if cfg.Store.RetentionDays > 0 {
			retention := time.Duration(cfg.Store.RetentionDays) * 24 * time.Hour
			if pruned, err := s.Prune(context.Background(), retention); err == nil && pruned > 0 {
				fmt.Printf("  [+] Archiv: %d alte Transkriptionen entfernt\n", pruned)
			}
		}
	}

	srv, err := serve.New(srvCfg, tr, archive)
	if err != nil {
		printError("Server konnte nicht erstellt werden", err)
		return err
	}
	if archive != nil {
		// 200 MiB headroom before the archive volume counts as degraded
		srv.HealthRegistry().Register(
			health.DiskSpace("archive-disk", filepath.Dir(cfg.Store.Path), 200<<20))
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := srv.StartAsync(); err != nil {
		printError("Server konnte nicht gestartet werden", err)
		return err
	}

	fmt.Println("meinSPRACHWERK")
	fmt.Println("==============")
	fmt.Printf("  [+] Transkriptionsserver auf %s\n", srv.Address())
	if archive != nil {
		fmt.Printf("  [+] Archiv: %s\n", cfg.Store.Path)
	}
	fmt.Println("Drücke Ctrl+C zum Beenden")

	<-sigCh
	fmt.Println("\nStoppe Server...")
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutCtx)
}
