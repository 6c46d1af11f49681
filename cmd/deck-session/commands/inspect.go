package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spherical/deck-session/internal/config"
	"github.com/spherical/deck-session/internal/domain"
	"github.com/spherical/deck-session/internal/observability"
	"github.com/spherical/deck-session/internal/pdf"
	"github.com/spherical/deck-session/internal/session"
	"github.com/spherical/deck-session/internal/ui"
)

var (
	renderPage int
	renderOut  string
	renderDPI  float64
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Load a document once and print what the session sees",
	Long: `Inspect loads a PDF or office document through the same session used by
the server, prints its page count and metadata, and optionally renders one page
to a PNG file.`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().IntVar(&renderPage, "page", 0, "render this 1-based page to --out")
	inspectCmd.Flags().StringVarP(&renderOut, "out", "o", "", "output PNG path for --page")
	inspectCmd.Flags().Float64Var(&renderDPI, "dpi", 0, "render resolution (default from config)")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	if renderPage > 0 && renderOut == "" {
		return fmt.Errorf("--page requires --out")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger := observability.NewLogger(observability.LogConfig{
		Level:       level,
		Format:      "console",
		Output:      ui.Stderr,
		ServiceName: cfg.Observability.ServiceName,
	})

	file, err := pdf.OpenFile(args[0])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	events := make(chan domain.StatusEvent, 16)
	manager, cleanup := newManager(cfg, logger, events)
	defer cleanup()

	spin := ui.NewSpinner(domain.PhaseProcessing.Text())
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			spin.UpdateMessage(ev.Text)
		}
	}()

	ui.Step("Loading %s (%s)", file.Name(), file.MediaType())
	start := time.Now()
	spin.Start()
	loadErr := manager.Load(ctx, file)
	spin.Stop()

	if loadErr == nil {
		err = report(manager, time.Since(start), cfg.Parser.RenderDPI)
	}

	_ = manager.Close()
	close(events)
	<-done

	if loadErr != nil {
		ui.Error("%s failed to load", file.Name())
		return loadErr
	}
	return err
}

// report prints the loaded session and renders the requested page.
func report(manager *session.Manager, elapsed time.Duration, defaultDPI float64) error {
	snap := manager.Snapshot()
	ui.Success("%s in %s", snap.StatusText, ui.FormatDuration(elapsed))

	ui.Section(snap.FileName)
	ui.KeyValue("Pages", fmt.Sprint(snap.PageCount))
	ui.KeyValue("PDF size", ui.FormatBytes(snap.SizeBytes))
	ui.KeyValue("Load ID", snap.LoadID)

	return manager.WithDocument(func(v session.View) error {
		if meta := v.Document.Metadata(); len(meta) > 0 {
			ui.Section("Metadata")
			ui.Table(meta)
		}

		if renderPage == 0 {
			return nil
		}
		dpi := renderDPI
		if dpi <= 0 {
			dpi = defaultDPI
		}
		png, err := v.Document.RenderPNG(renderPage, dpi)
		if err != nil {
			return err
		}
		if err := os.WriteFile(renderOut, png, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", renderOut, err)
		}
		ui.Success("Rendered page %d to %s", renderPage, renderOut)
		return nil
	})
}
