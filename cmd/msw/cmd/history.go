package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/msto63/mSW/internal/store"
	"github.com/msto63/mSW/pkg/core/config"
)

var (
	historyLanguage string
	historySource   string
	historySearch   string
	historyLimit    int
	historyOffset   int
	historyDays     int
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Verwaltet das Transkriptionsarchiv",
	Long: `Durchsucht und verwaltet das lokale Transkriptionsarchiv.

Unterbefehle:
  list   - Transkriptionen auflisten
  show   - Eine Transkription anzeigen
  delete - Eine Transkription löschen
  prune  - Alte Transkriptionen entfernen
  stats  - Archivstatistik anzeigen`,
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "Listet Transkriptionen auf",
	RunE:  runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Zeigt eine Transkription an",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Löscht eine Transkription",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryDelete,
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Entfernt alte Transkriptionen",
	RunE:  runHistoryPrune,
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Zeigt die Archivstatistik an",
	RunE:  runHistoryStats,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyDeleteCmd, historyPruneCmd, historyStatsCmd)

	historyListCmd.Flags().StringVar(&historyLanguage, "language", "", "Nach Sprache filtern")
	historyListCmd.Flags().StringVar(&historySource, "source", "", "Nach Quelle filtern (Dateipfad, upload, live)")
	historyListCmd.Flags().StringVar(&historySearch, "search", "", "Volltextsuche im Transkript")
	historyListCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximale Anzahl Einträge")
	historyListCmd.Flags().IntVar(&historyOffset, "offset", 0, "Einträge überspringen")

	historyPruneCmd.Flags().IntVar(&historyDays, "days", 0, "Einträge älter als N Tage entfernen (0 = Wert aus der Config)")
}

// openArchive opens the configured transcript archive. The history
// command also works when archiving is disabled for new transcriptions.
func openArchive(cfg *config.Config) (*store.SQLiteStore, error) {
	path := cfg.Store.Path
	if path == "" {
		path = store.DefaultConfig().Path
	}
	return store.NewSQLiteStore(store.Config{Path: path})
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	s, err := openArchive(cfg)
	if err != nil {
		printError("Archiv konnte nicht geöffnet werden", err)
		return err
	}
	defer s.Close()

	records, err := s.List(context.Background(), store.Filter{
		Language: historyLanguage,
		Source:   historySource,
		Search:   historySearch,
		Limit:    historyLimit,
		Offset:   historyOffset,
	})
	if err != nil {
		printError("Archiv konnte nicht gelesen werden", err)
		return err
	}
	if len(records) == 0 {
		fmt.Println("Keine Transkriptionen gefunden.")
		return nil
	}

	for _, rec := range records {
		fmt.Printf("%s  %s  %7.1fs  %-2s  %s\n",
			rec.ID,
			rec.CreatedAt.Local().Format("2006-01-02 15:04"),
			rec.Duration,
			rec.Language,
			truncateText(rec.Text, 60),
		)
	}
	return nil
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	s, err := openArchive(cfg)
	if err != nil {
		printError("Archiv konnte nicht geöffnet werden", err)
		return err
	}
	defer s.Close()

	rec, err := s.Get(context.Background(), args[0])
	if err != nil {
		printError("Archiv konnte nicht gelesen werden", err)
		return err
	}
	if rec == nil {
		return fmt.Errorf("keine Transkription mit ID %s gefunden", args[0])
	}

	fmt.Printf("ID:          %s\n", rec.ID)
	fmt.Printf("Quelle:      %s\n", rec.Source)
	fmt.Printf("Sprache:     %s\n", rec.Language)
	fmt.Printf("Task:        %s\n", rec.Task)
	fmt.Printf("Dauer:       %.1fs\n", rec.Duration)
	fmt.Printf("Erstellt:    %s\n", rec.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Fingerprint: %s\n", rec.Fingerprint)
	fmt.Println()
	fmt.Println(rec.Text)

	if len(rec.Segments) > 0 {
		fmt.Println()
		for _, seg := range rec.Segments {
			fmt.Printf("  [%8.2f -> %8.2f] %s\n", seg.Start, seg.End, strings.TrimSpace(seg.Text))
		}
	}
	return nil
}

func runHistoryDelete(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	s, err := openArchive(cfg)
	if err != nil {
		printError("Archiv konnte nicht geöffnet werden", err)
		return err
	}
	defer s.Close()

	ctx := context.Background()
	rec, err := s.Get(ctx, args[0])
	if err != nil {
		printError("Archiv konnte nicht gelesen werden", err)
		return err
	}
	if rec == nil {
		return fmt.Errorf("keine Transkription mit ID %s gefunden", args[0])
	}
	if err := s.Delete(ctx, rec.ID); err != nil {
		printError("Löschen fehlgeschlagen", err)
		return err
	}
	fmt.Printf("Transkription %s gelöscht.\n", rec.ID)
	return nil
}

func runHistoryPrune(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	days := historyDays
	if days <= 0 {
		days = cfg.Store.RetentionDays
	}
	if days <= 0 {
		return fmt.Errorf("keine Aufbewahrungsdauer konfiguriert, --days angeben")
	}

	s, err := openArchive(cfg)
	if err != nil {
		printError("Archiv konnte nicht geöffnet werden", err)
		return err
	}
	defer s.Close()

	ctx := context.Background()
	pruned, err := s.Prune(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		printError("Aufräumen fehlgeschlagen", err)
		return err
	}
	if pruned > 0 {
		if err := s.Vacuum(ctx); err != nil {
			printError("Vacuum fehlgeschlagen", err)
		}
	}
	fmt.Printf("%d Transkriptionen entfernt (älter als %d Tage).\n", pruned, days)
	return nil
}

func runHistoryStats(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	s, err := openArchive(cfg)
	if err != nil {
		printError("Archiv konnte nicht geöffnet werden", err)
		return err
	}
	defer s.Close()

	stats, err := s.Statistics(context.Background())
	if err != nil {
		printError("Statistik konnte nicht gelesen werden", err)
		return err
	}

	if total, ok := stats["total_transcripts"].(int64); ok {
		fmt.Printf("Transkriptionen: %d\n", total)
	}
	if seconds, ok := stats["total_audio_seconds"].(float64); ok {
		fmt.Printf("Audiomaterial:   %.1f Minuten\n", seconds/60)
	}
	if byLanguage, ok := stats["by_language"].(map[string]int64); ok && len(byLanguage) > 0 {
		fmt.Println("Nach Sprache:")
		for lang, count := range byLanguage {
			fmt.Printf("  %-5s %d\n", lang, count)
		}
	}
	return nil
}

func truncateText(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
