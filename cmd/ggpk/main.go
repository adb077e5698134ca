// The ggpk command browses and patches GGPK pack files.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/meigma/ggpk"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "ggpk:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "ggpk",
		Usage:   "Browse and patch GGPK pack files in place",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pack", Aliases: []string{"p"}, Required: true, TakesFile: true, Usage: "Path to the pack file", EnvVars: []string{"GGPK_PACK"}},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Set log level (debug, info, warn, error)", EnvVars: []string{"GGPK_LOG_LEVEL"}},
			&cli.StringFlag{Name: "log-format", Value: "text", Usage: "Set log format (text, json)", EnvVars: []string{"GGPK_LOG_FORMAT"}},
			&cli.BoolFlag{Name: "no-verify", Usage: "Skip content hash verification on read", EnvVars: []string{"GGPK_NO_VERIFY"}},
		},
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List a directory",
				ArgsUsage: "[path]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "recursive", Aliases: []string{"r"}, Usage: "List files below the directory recursively"},
					&cli.BoolFlag{Name: "long", Aliases: []string{"l"}, Usage: "Show size, offset and digest"},
				},
				Action: listAction,
			},
			{
				Name:      "cat",
				Usage:     "Write a file's content to stdout",
				ArgsUsage: "<path>",
				Action:    catAction,
			},
			{
				Name:      "extract",
				Usage:     "Extract a file or directory",
				ArgsUsage: "<path> <dest>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "overwrite", Usage: "Overwrite existing files"},
					&cli.IntFlag{Name: "workers", Value: 0, Usage: "Extraction workers (<0 serial, 0 auto)"},
				},
				Action: extractAction,
			},
			{
				Name:      "replace",
				Usage:     "Replace a file's content with a local file",
				ArgsUsage: "<path> <source>",
				Action:    replaceAction,
			},
			{
				Name:      "import",
				Usage:     "Replace files from a directory or a .zip patch archive",
				ArgsUsage: "<dir|zip>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "base-name", Value: true, Usage: "Include the directory's own name in pack paths (--base-name=false maps the directory to the pack root)"},
				},
				Action: importAction,
			},
			{
				Name:   "free",
				Usage:  "Show the free list",
				Action: freeAction,
			},
			{
				Name:   "check",
				Usage:  "Rescan the pack and verify its structure and content",
				Action: checkAction,
			},
		},
	}
}

// newLogger builds a slog logger from the global flags.
func newLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid --log-format %q, expected text or json", format)
	}
}

func openPack(c *cli.Context) (*ggpk.Pack, error) {
	logger, err := newLogger(c.String("log-level"), c.String("log-format"), c.App.ErrWriter)
	if err != nil {
		return nil, err
	}
	return ggpk.Open(c.String("pack"),
		ggpk.WithLogger(logger),
		ggpk.WithVerify(!c.Bool("no-verify")),
		ggpk.WithProgress(func(ev ggpk.ProgressEvent) {
			logger.Debug("progress",
				"stage", ev.Stage.String(),
				"path", ev.Path,
				"files_done", ev.FilesDone,
				"files_total", ev.FilesTotal)
		}))
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s expects %d argument(s), got %d", c.Command.Name, n, c.NArg())
	}
	return nil
}

func listAction(c *cli.Context) error {
	p, err := openPack(c)
	if err != nil {
		return err
	}
	d, err := p.LookupDir(c.Args().First())
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	long := c.Bool("long")
	if c.Bool("recursive") {
		for f := range p.Files(d) {
			printNode(tw, f.Node, f.Path(), long)
		}
		return nil
	}
	for _, n := range p.List(d) {
		name := n.Name()
		if n.IsDir() {
			name += "/"
		}
		printNode(tw, n, name, long)
	}
	return nil
}

func printNode(w io.Writer, n ggpk.Node, name string, long bool) {
	if !long {
		fmt.Fprintln(w, name)
		return
	}
	f, ok := n.File()
	if !ok {
		fmt.Fprintf(w, "%s\t-\t0x%X\t-\n", name, n.Offset())
		return
	}
	fmt.Fprintf(w, "%s\t%d\t0x%X\t%s\n", name, f.Size(), f.Offset(), f.Digest())
}

func catAction(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	p, err := openPack(c)
	if err != nil {
		return err
	}
	f, err := p.LookupFile(c.Args().First())
	if err != nil {
		return err
	}
	data, err := p.Read(f)
	if err != nil {
		return err
	}
	_, err = c.App.Writer.Write(data)
	return err
}

func extractAction(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	p, err := openPack(c)
	if err != nil {
		return err
	}
	n, err := p.Lookup(c.Args().Get(0))
	if err != nil {
		return err
	}
	dest := c.Args().Get(1)
	if f, ok := n.File(); ok {
		return p.ExtractFile(f, dest)
	}
	d, _ := n.Dir()
	stats, err := p.ExtractDir(c.Context, d, dest,
		ggpk.ExtractWithOverwrite(c.Bool("overwrite")),
		ggpk.ExtractWithWorkers(c.Int("workers")))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "extracted %d files (%d bytes), skipped %d\n", stats.Extracted, stats.Bytes, stats.Skipped)
	return nil
}

func replaceAction(c *cli.Context) error {
	if err := requireArgs(c, 2); err != nil {
		return err
	}
	p, err := openPack(c)
	if err != nil {
		return err
	}
	f, err := p.LookupFile(c.Args().Get(0))
	if err != nil {
		return err
	}
	src, err := os.Open(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer src.Close()
	info, err := src.Stat()
	if err != nil {
		return err
	}
	old := f.Offset()
	f, err = p.ReplaceFrom(f, src, info.Size())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s: %d bytes at 0x%X (was 0x%X), %s\n", f.Path(), f.Size(), f.Offset(), old, f.Digest())
	return nil
}

func importAction(c *cli.Context) error {
	if err := requireArgs(c, 1); err != nil {
		return err
	}
	p, err := openPack(c)
	if err != nil {
		return err
	}
	source := c.Args().First()
	var stats ggpk.ImportStats
	if strings.EqualFold(filepath.Ext(source), ".zip") {
		stats, err = p.ImportZip(c.Context, source)
	} else {
		stats, err = p.ImportDir(c.Context, source, ggpk.ImportWithBaseName(c.Bool("base-name")))
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "replaced %d files (%d bytes), skipped %d\n", stats.Replaced, stats.Bytes, len(stats.Skipped))
	for _, s := range stats.Skipped {
		fmt.Fprintf(c.App.Writer, "skipped %s\n", s)
	}
	return nil
}

func freeAction(c *cli.Context) error {
	p, err := openPack(c)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	for _, r := range p.FreeRegions() {
		fmt.Fprintf(tw, "0x%X\t%d\n", r.Offset, r.Length)
	}
	for _, r := range p.OrphanRegions() {
		fmt.Fprintf(tw, "0x%X\t%d\torphan\n", r.Offset, r.Length)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%d regions, %d bytes free of %d\n", len(p.FreeRegions()), p.FreeBytes(), p.Size())
	return nil
}

func checkAction(c *cli.Context) error {
	p, err := openPack(c)
	if err != nil {
		return err
	}
	r, err := p.Check(c.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "ok: %d records, %d files, %d dirs, %d free regions (%d bytes), %d verified\n",
		r.Records, r.Files, r.Dirs, r.FreeRegions, r.FreeBytes, r.Verified)
	if r.OrphanRegions > 0 || r.Unreachable > 0 {
		fmt.Fprintf(c.App.Writer, "warning: %d orphan free records, %d unreachable records\n", r.OrphanRegions, r.Unreachable)
	}
	return nil
}
