package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/msto63/mSW/pkg/core/config"
	"github.com/msto63/mSW/pkg/core/logging"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "msw",
	Short: "meinSPRACHWERK - Lokale Spracherkennung",
	Long: `meinSPRACHWERK ist eine lokale Spracherkennung für den
Einzelarbeitsplatz: Transkription von Audiodateien und Diktat,
vollständig offline.

Befehle:
  transcribe - Audiodateien transkribieren
  serve      - Transkriptionsserver starten
  history    - Transkriptionsarchiv verwalten
  version    - Version anzeigen`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config-Datei (default: ./configs/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose Output")
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Fehler: %s: %v\n", msg, err)
}

// loadConfig resolves the central configuration: the --config flag wins,
// then the usual search paths, then pure defaults.
func loadConfig() *config.Config {
	if cfgFile != "" {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			fmt.Printf("Warnung: Config nicht geladen (%v), nutze Defaults\n", err)
			return config.Default()
		}
		return cfg
	}
	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Printf("Warnung: Config nicht geladen (%v), nutze Defaults\n", err)
		return config.Default()
	}
	return cfg
}

// newLogger builds a component logger from the central config; --verbose
// forces debug level.
func newLogger(cfg *config.Config, name string) *logging.Logger {
	lcfg := logging.Config{
		Name:   name,
		Level:  logging.ParseLevel(cfg.General.LogLevel),
		Format: logging.ParseFormat(cfg.General.LogFormat),
	}
	if verbose {
		lcfg.Level = logging.LevelDebug
	}
	return logging.NewWithConfig(lcfg)
}
