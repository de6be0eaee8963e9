package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/scribe/internal/app"
	"github.com/MrWong99/scribe/internal/batch"
	"github.com/MrWong99/scribe/internal/config"
	"github.com/MrWong99/scribe/internal/export"
)

type runFlags struct {
	note     string
	source   string
	format   string
	output   string
	title    string
	noRepair bool
}

func newRunCmd(flags *rootFlags) *cobra.Command {
	rf := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run [flags] UNIT...",
		Short: "Run a batch over units and export the transcript",
		Long: `Run a batch over the given units in order. Each unit is one part of the
same recording: a text file with raw model output (batch.source text) or an
audio file (batch.source audio). Speakers and timestamps carry over between
units. Failed units are reported and skipped. The finished session is
archived to the configured store and exported.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, flags, rf, args)
		},
	}
	cmd.Flags().StringVar(&rf.note, "note", "cli", "note ID the session is archived under")
	cmd.Flags().StringVar(&rf.source, "source", "", "override batch.source (text, audio)")
	cmd.Flags().StringVarP(&rf.format, "format", "f", "text", "export format (text, markdown, json)")
	cmd.Flags().StringVarP(&rf.output, "output", "o", "", "write the export to this file instead of stdout")
	cmd.Flags().StringVar(&rf.title, "title", "", "markdown document title")
	cmd.Flags().BoolVar(&rf.noRepair, "no-repair", false, "disable timestamp repair")
	return cmd
}

func runBatch(cmd *cobra.Command, flags *rootFlags, rf *runFlags, paths []string) error {
	ctx := cmd.Context()

	format, err := export.ParseFormat(rf.format)
	if err != nil {
		return err
	}
	cfg, _, err := flags.loadConfig(cmd)
	if err != nil {
		return err
	}
	if rf.source != "" {
		cfg.Batch.Source = config.BatchSource(rf.source)
	}
	if rf.noRepair {
		cfg.Transcript.RepairTimestamps = false
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)
	providers, err := app.BuildProviders(reg, cfg.Providers)
	if err != nil {
		return err
	}
	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(shutdownCtx); err != nil {
			slog.Warn("shutdown error", "err", err)
		}
	}()

	units := make([]batch.Unit, len(paths))
	for i, p := range paths {
		units[i] = batch.Unit{ID: strconv.Itoa(i + 1), Name: filepath.Base(p), Path: p}
	}

	report, _, err := application.RunBatch(ctx, rf.note, units, logProgress)
	if err != nil {
		return err
	}
	if report.Succeeded == 0 {
		return fmt.Errorf("all %d units failed", report.Units)
	}

	sess, info, err := application.Sessions().Get(rf.note)
	if err != nil {
		return err
	}

	var w io.Writer = cmd.OutOrStdout()
	if rf.output != "" {
		f, err := os.Create(rf.output)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	meta := export.Meta{Title: rf.title, NoteID: rf.note, SessionID: info.SessionID}
	if err := export.Write(w, format, sess, meta); err != nil {
		return err
	}

	slog.Info("batch finished",
		"units", report.Units,
		"failed", len(report.Failed),
		"segments", report.Segments,
		"speakers", len(sess.Speakers()),
		"duration", report.Duration,
	)
	return nil
}

// logProgress reports batch progress on the default logger.
func logProgress(ev batch.ProgressEvent) {
	switch ev.Kind {
	case batch.EventUnitStarted:
		slog.Info("unit started", "unit", ev.Unit.Name, "index", ev.Index+1, "total", ev.Total)
	case batch.EventUnitDone:
		slog.Info("unit done", "unit", ev.Unit.Name, "segments", ev.Segments)
	case batch.EventUnitFailed:
		slog.Warn("unit failed", "unit", ev.Unit.Name, "err", ev.Err)
	}
}
