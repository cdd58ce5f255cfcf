package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/msto63/mSW/internal/audio"
	"github.com/msto63/mSW/internal/decode"
	"github.com/msto63/mSW/internal/model"
	"github.com/msto63/mSW/internal/remote"
	"github.com/msto63/mSW/internal/transcribe"
	"github.com/msto63/mSW/pkg/core/config"
)

var (
	transcribeLanguage    string
	transcribeTask        string
	transcribeFormats     []string
	transcribeOutput      string
	transcribeWords       bool
	transcribeTemperature float32
	transcribeWorkers     int
	transcribeServer      string
	transcribeJobFile     string
	transcribeWatchDir    string
)

var transcribeCmd = &cobra.Command{
	Use:   "transcribe [datei...]",
	Short: "Transkribiert Audiodateien",
	Long: `Transkribiert WAV-Audiodateien in Text, JSON, SRT oder VTT.

Ohne --server läuft die Pipeline lokal; dafür muss ein Modell-Backend
in das Binary eingebunden sein. Mit --server gehen die Dateien an einen
laufenden Transkriptionsserver.

Beispiele:
  msw transcribe aufnahme.wav
  msw transcribe --language de --format srt interview.wav
  msw transcribe --server http://localhost:50060 aufnahme.wav
  msw transcribe --job auftrag.yaml
  msw transcribe --watch ./auftraege`,
	RunE: runTranscribe,
}

func init() {
	rootCmd.AddCommand(transcribeCmd)
	transcribeCmd.Flags().StringVarP(&transcribeLanguage, "language", "l", "", "Sprache (ISO 639-1, leer = automatisch)")
	transcribeCmd.Flags().StringVar(&transcribeTask, "task", "", "transcribe oder translate")
	transcribeCmd.Flags().StringSliceVarP(&transcribeFormats, "format", "f", []string{"text"}, "Ausgabeformate: text, json, srt, vtt")
	transcribeCmd.Flags().StringVarP(&transcribeOutput, "output", "o", "", "Ausgabeverzeichnis (leer = Text auf stdout)")
	transcribeCmd.Flags().BoolVar(&transcribeWords, "word-timestamps", false, "Zeitstempel pro Wort ermitteln")
	transcribeCmd.Flags().Float32Var(&transcribeTemperature, "temperature", 0, "Basis-Temperatur für das Sampling")
	transcribeCmd.Flags().IntVar(&transcribeWorkers, "workers", 0, "Worker für lange Dateien (0 = Wert aus der Config)")
	transcribeCmd.Flags().StringVar(&transcribeServer, "server", "", "Transkriptionsserver statt lokaler Pipeline")
	transcribeCmd.Flags().StringVar(&transcribeJobFile, "job", "", "Auftragsdatei (YAML) ausführen")
	transcribeCmd.Flags().StringVar(&transcribeWatchDir, "watch", "", "Verzeichnis auf Auftrags- und Audiodateien überwachen")
}

// fileTranscriber is satisfied by the local pipeline and the remote client.
type fileTranscriber interface {
	TranscribeFile(ctx context.Context, path string, opts decode.Options) (*transcribe.TranscriptionResult, error)
}

func runTranscribe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx := context.Background()

	if transcribeWatchDir != "" {
		return runWatchMode(ctx, cfg)
	}
	if transcribeJobFile != "" {
		return runJobFile(ctx, cfg)
	}
	if len(args) == 0 {
		return fmt.Errorf("keine Audiodatei angegeben")
	}

	opts := transcribeOptions(cfg)
	formats, err := parseFormats(transcribeFormats)
	if err != nil {
		printError("ungültiges Format", err)
		return err
	}

	var tr fileTranscriber
	if transcribeServer != "" {
		client, err := remote.New(remote.Config{BaseURL: transcribeServer})
		if err != nil {
			printError("Server-Adresse ungültig", err)
			return err
		}
		tr = client
	} else {
		local, err := newLocalTranscriber(cfg)
		if err != nil {
			printError("Pipeline konnte nicht erstellt werden", err)
			if errors.Is(err, model.ErrModelUnavailable) {
				fmt.Fprintln(os.Stderr, "Hinweis: ohne Modell-Backend transkribiert --server gegen einen laufenden Server")
			}
			return err
		}
		tr = local
	}

	for _, input := range args {
		result, err := transcribeOne(ctx, cfg, tr, input, opts)
		if err != nil {
			printError(input, err)
			return err
		}
		if err := writeResult(result, input, formats); err != nil {
			printError(input, err)
			return err
		}
	}
	return nil
}

// transcribeOne routes a single file through the plain or the chunked
// path. Chunking needs the local pipeline; the remote server decides for
// itself how to handle long files.
func transcribeOne(ctx context.Context, cfg *config.Config, tr fileTranscriber, input string, opts decode.Options) (*transcribe.TranscriptionResult, error) {
	local, isLocal := tr.(*transcribe.Transcriber)
	chunked := transcribeWorkers > 0 || cfg.Engine.Chunking == "vad"
	if isLocal && chunked {
		samples, err := audio.LoadWAV(input)
		if err != nil {
			return nil, err
		}
		workers := transcribeWorkers
		if workers == 0 {
			workers = cfg.Engine.Workers
		}
		return local.TranscribeLong(ctx, samples, opts, workers)
	}
	return tr.TranscribeFile(ctx, input, opts)
}

// writeResult prints plain text to stdout; everything else goes through
// the report writers into the output directory.
func writeResult(result *transcribe.TranscriptionResult, input string, formats []transcribe.Format) error {
	if transcribeOutput == "" && len(formats) == 1 && formats[0] == transcribe.FormatText {
		return transcribe.WriteReport(os.Stdout, transcribe.FormatText, result)
	}

	dir := transcribeOutput
	if dir == "" {
		dir = "."
	}
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	for _, format := range formats {
		path, err := transcribe.WriteReportFile(dir, name, format, result)
		if err != nil {
			return err
		}
		fmt.Printf("  [+] %s\n", path)
	}
	return nil
}

func runJobFile(ctx context.Context, cfg *config.Config) error {
	if transcribeServer != "" {
		return fmt.Errorf("Auftragsdateien laufen nur gegen die lokale Pipeline")
	}

	job, err := transcribe.LoadJob(transcribeJobFile)
	if err != nil {
		printError("Auftragsdatei ungültig", err)
		return err
	}
	tr, err := newLocalTranscriber(cfg)
	if err != nil {
		printError("Pipeline konnte nicht erstellt werden", err)
		return err
	}

	written, err := tr.RunJob(ctx, job)
	for _, path := range written {
		fmt.Printf("  [+] %s\n", path)
	}
	if err != nil {
		printError("Auftrag fehlgeschlagen", err)
		return err
	}
	fmt.Printf("Auftrag %s abgeschlossen (%d Dateien).\n", job.Name, len(written))
	return nil
}

func runWatchMode(ctx context.Context, cfg *config.Config) error {
	tr, err := newLocalTranscriber(cfg)
	if err != nil {
		printError("Pipeline konnte nicht erstellt werden", err)
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher, err := transcribe.NewJobWatcher(transcribe.JobWatcherConfig{
		Transcriber: tr,
		Dir:         transcribeWatchDir,
		Logger:      newLogger(cfg, "watch"),
		OnDone: func(job *transcribe.Job, written []string, err error) {
			if err != nil {
				printError(job.Name, err)
				return
			}
			for _, path := range written {
				fmt.Printf("  [+] %s\n", path)
			}
		},
	})
	if err != nil {
		printError("Überwachung konnte nicht gestartet werden", err)
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := watcher.Start(ctx); err != nil {
		printError("Überwachung konnte nicht gestartet werden", err)
		return err
	}
	fmt.Printf("Überwache %s auf Auftrags- und Audiodateien...\n", transcribeWatchDir)
	fmt.Println("Drücke Ctrl+C zum Beenden")

	<-sigCh
	fmt.Println("\nStoppe Überwachung...")
	watcher.Stop()
	return nil
}

// transcribeOptions folds the command flags over the configured engine
// defaults.
func transcribeOptions(cfg *config.Config) decode.Options {
	opts := engineOptions(cfg)
	switch {
	case transcribeLanguage == "auto":
		opts.Language = ""
		opts.DetectLanguage = true
	case transcribeLanguage != "":
		opts.Language = transcribeLanguage
		opts.DetectLanguage = false
	}
	if transcribeTask != "" {
		opts.Task = decode.Task(transcribeTask)
	}
	if transcribeTemperature > 0 {
		opts.Temperature = transcribeTemperature
	}
	if transcribeWords {
		opts.WordTimestamps = true
	}
	return opts
}

// engineOptions maps the central engine config onto decoding options.
func engineOptions(cfg *config.Config) decode.Options {
	opts := decode.DefaultOptions()
	opts.Task = decode.Task(cfg.Engine.Task)
	opts.Language = cfg.Engine.Language
	opts.DetectLanguage = opts.Language == ""
	opts.Temperature = cfg.Engine.Temperature
	opts.TemperatureIncrement = cfg.Engine.TemperatureIncrement
	opts.TemperatureFallbackCount = cfg.Engine.TemperatureFallbackCount
	opts.SampleLength = cfg.Engine.SampleLength
	opts.TopK = cfg.Engine.TopK
	opts.CompressionRatioThreshold = decode.Float32(cfg.Engine.CompressionRatioLimit)
	opts.LogProbThreshold = decode.Float32(cfg.Engine.LogProbLimit)
	opts.FirstTokenLogProbThreshold = decode.Float32(cfg.Engine.FirstTokenLogProbLimit)
	opts.NoSpeechThreshold = decode.Float32(cfg.Engine.NoSpeechLimit)
	opts.WordTimestamps = cfg.Engine.WordTimestamps
	opts.WithoutTimestamps = cfg.Engine.WithoutTimestamps
	return opts
}

// newLocalTranscriber loads the configured model backend and builds the
// pipeline on top of it.
func newLocalTranscriber(cfg *config.Config) (*transcribe.Transcriber, error) {
	m, err := model.Load(cfg.Engine.ModelDir)
	if err != nil {
		return nil, err
	}
	return transcribe.NewTranscriber(transcribe.TranscriberConfig{
		Model:  m,
		Logger: newLogger(cfg, "transcribe"),
	})
}

func parseFormats(names []string) ([]transcribe.Format, error) {
	formats := make([]transcribe.Format, 0, len(names))
	for _, name := range names {
		format, err := transcribe.ParseFormat(name)
		if err != nil {
			return nil, err
		}
		formats = append(formats, format)
	}
	return formats, nil
}
