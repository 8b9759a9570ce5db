// cmd/demo/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Corphon/AIHouse/internal/app"
	"github.com/Corphon/AIHouse/internal/config"
	"github.com/Corphon/AIHouse/internal/utils"
)

var version = "dev"

var (
	flagDataDir  string
	flagScenario string
	flagExport   string
	flagMessages []string
	flagVerbose  bool
)

// 默认脚本：先问 Leo，再点名 Max，最后喊 Emma
var defaultLines = []string{
	"leo|Leo, the evening light on the terrace looks incredible tonight.",
	"leo|Max, what do you see in this light?",
	"emma|Emma, are you sure we're alone in this house?",
}

var rootCmd = &cobra.Command{
	Use:   "aihouse-demo",
	Short: "Offline playground for the AI House show core",
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Play a short episode offline and print the transcript",
	RunE:  runDemo,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "aihouse-demo %s\n", version)
	},
}

func init() {
	runCmd.Flags().StringVar(&flagDataDir, "data-dir", "", "data directory (default: temporary)")
	runCmd.Flags().StringVar(&flagScenario, "scenario", "", "scenario id to execute after the chat")
	runCmd.Flags().StringVar(&flagExport, "export", "", "export format: json, markdown or txt")
	runCmd.Flags().StringArrayVarP(&flagMessages, "message", "m", nil, "character|text line to send (repeatable)")
	runCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "show service logs")

	rootCmd.AddCommand(runCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDemo(cmd *cobra.Command, _ []string) error {
	lines, err := parseLines(flagMessages)
	if err != nil {
		return err
	}

	dataDir := flagDataDir
	if dataDir == "" {
		tmp, err := os.MkdirTemp("", "aihouse-demo-*")
		if err != nil {
			return fmt.Errorf("create temp dir: %w", err)
		}
		defer os.RemoveAll(tmp)
		dataDir = tmp
	}

	cfg := config.Default()
	cfg.DataDir = dataDir
	cfg.LogDir = dataDir
	cfg.DatabasePath = filepath.Join(dataDir, "archive.db")
	cfg.Show.SummarizerMode = config.SummarizerHeuristic
	cfg.Show.AutonomousInterval = 0

	logger := utils.NewNopLogger()
	if flagVerbose {
		logger = utils.NewStderrLogger(utils.DEBUG)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.Start(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tr := newTranscript(out)
	tr.Header("AI House", a.Show.Characters())

	for _, l := range lines {
		if _, err := a.Show.SendMessage(ctx, l.character, l.text); err != nil {
			tr.Error(fmt.Sprintf("%s: %v", l.character, err))
		}
	}

	if flagScenario != "" {
		playCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		if _, err := a.Show.ExecuteScenario(playCtx, flagScenario); err != nil {
			tr.Error(fmt.Sprintf("scenario %s: %v", flagScenario, err))
		}
		cancel()
	}

	tr.Messages(a.Reflector.Log())
	if summary, ok := a.Reflector.CurrentSummary(); ok {
		tr.Summary(summary)
	}
	tr.Arcs(a.Registry.ArcStatuses())
	if a.Archive != nil {
		if counts, err := a.Archive.Counts(ctx); err == nil {
			tr.Note(fmt.Sprintf("archived %d messages", counts.Messages))
		}
	}

	if flagExport != "" {
		report, err := a.Show.ExportEpisode(ctx, flagExport)
		if err != nil {
			return err
		}
		if flagDataDir == "" {
			// 临时目录会被清理，直接输出内容
			content := report.Content
			if content == "" {
				raw, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				content = string(raw)
			}
			tr.Export(report.Format, content)
		} else {
			tr.Note(fmt.Sprintf("episode exported to %s", report.FilePath))
		}
	}
	return nil
}
