package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrWong99/scribe/internal/export"
	"github.com/MrWong99/scribe/internal/transcript"
)

type parseFlags struct {
	format      string
	title       string
	noRepair    bool
	diagnostics bool
}

func newParseCmd(flags *rootFlags) *cobra.Command {
	pf := &parseFlags{}
	cmd := &cobra.Command{
		Use:   "parse [flags] [FILE...]",
		Short: "Parse raw model output and print the normalised transcript",
		Long: `Parse raw "[mm:ss] [Speaker] text" model output from the given files, in
order, or from stdin. All input forms one session, so speakers and timestamps
carry over between files. Nothing is archived.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return parse(cmd, flags, pf, args)
		},
	}
	cmd.Flags().StringVarP(&pf.format, "format", "f", "text", "export format (text, markdown, json)")
	cmd.Flags().StringVar(&pf.title, "title", "", "markdown document title")
	cmd.Flags().BoolVar(&pf.noRepair, "no-repair", false, "disable timestamp repair")
	cmd.Flags().BoolVar(&pf.diagnostics, "diagnostics", false, "report lines without full structure on stderr")
	return cmd
}

func parse(cmd *cobra.Command, flags *rootFlags, pf *parseFlags, files []string) error {
	format, err := export.ParseFormat(pf.format)
	if err != nil {
		return err
	}
	cfg, _, err := flags.loadConfig(cmd)
	if err != nil {
		return err
	}

	sess := transcript.NewSession(transcript.WithRegistryOptions(cfg.Transcript.RegistryOptions()...))
	opts := cfg.Transcript.Options()
	if pf.noRepair {
		opts.RepairTimestamps = false
	}

	process := func(name string, r io.Reader) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		opts.UnitID = name
		res := sess.Process(cmd.Context(), string(data), opts)
		if pf.diagnostics {
			for _, d := range res.Diagnostics {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s:%d: %s: %s\n", name, d.Line, d.Kind, d.Text)
			}
		}
		return nil
	}

	if len(files) == 0 {
		if err := process("stdin", cmd.InOrStdin()); err != nil {
			return err
		}
	}
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		err = process(path, f)
		f.Close()
		if err != nil {
			return err
		}
	}

	return export.Write(cmd.OutOrStdout(), format, sess, export.Meta{Title: pf.title, SessionID: sess.ID()})
}
