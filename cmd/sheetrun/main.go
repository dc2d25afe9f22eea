// Command sheetrun replays a script of worksheet commands and prints the
// results.
//
//	sheetrun [flags] script.txt [more.txt ...]
//
// a script name of "-" (or none) reads standard input.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/UNO-SOFT/zlog/v2"
	"github.com/peterbourgon/ff/v3"
	"github.com/peterbourgon/ff/v3/ffcli"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/vogtb/go-spreadsheet/packages/spreadsheet"
)

var verbose zlog.VerboseVar
var logger = zlog.NewLogger(zlog.MaybeConsoleHandler(&verbose, os.Stderr)).SLog()

func main() {
	if err := Main(); err != nil {
		logger.Error("MAIN", "error", err)
		os.Exit(1)
	}
}

func Main() error {
	fs := flag.NewFlagSet("sheetrun", flag.ContinueOnError)
	fs.Var(&verbose, "v", "logging verbosity")
	flagEnc := fs.String("charset", defaultCharset(), "script charset name")
	flagOut := fs.String("o", "", "output file name (default stdout)")
	flagStrict := fs.Bool("strict", false, "reject formulas that do not parse")
	flagAuto := fs.Bool("auto-calc", false, "recalculate after every change")
	flagKeepGoing := fs.Bool("k", false, "keep going after a failing command")
	flagHistory := fs.Int("history", spreadsheet.DefaultHistoryCapacity, "undo history capacity")
	_ = fs.String("config", "", "config file (optional)")

	app := ffcli.Command{
		Name:       "sheetrun",
		ShortUsage: "sheetrun [flags] [script ...]",
		FlagSet:    fs,
		Options: []ff.Option{
			ff.WithEnvVarPrefix("SHEETRUN"),
			ff.WithConfigFileFlag("config"),
			ff.WithConfigFileParser(ff.PlainParser),
			ff.WithAllowMissingConfigFile(true),
		},
		Exec: func(ctx context.Context, args []string) error {
			enc, err := getEncoding(*flagEnc)
			if err != nil {
				return err
			}
			var out io.Writer = os.Stdout
			if *flagOut != "" && *flagOut != "-" {
				fh, err := os.Create(*flagOut)
				if err != nil {
					return err
				}
				defer fh.Close()
				out = fh
			}

			runner := NewRunner(out, Config{
				Logger:          logger,
				Strict:          *flagStrict,
				AutoCalculate:   *flagAuto,
				KeepGoing:       *flagKeepGoing,
				HistoryCapacity: *flagHistory,
			})
			if len(args) == 0 {
				args = []string{"-"}
			}
			for _, fn := range args {
				if err := runFile(ctx, runner, fn, enc); err != nil {
					return fmt.Errorf("%s: %w", fn, err)
				}
			}
			return nil
		},
	}

	if err := app.Parse(os.Args[1:]); err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return app.Run(ctx)
}

func runFile(ctx context.Context, runner *Runner, fn string, enc encoding.Encoding) error {
	var r io.Reader = os.Stdin
	if !(fn == "" || fn == "-") {
		fh, err := os.Open(fn)
		if err != nil {
			return err
		}
		defer fh.Close()
		r = fh
	}
	if enc != nil {
		r = enc.NewDecoder().Reader(r)
	}
	logger.Debug("run script", "file", fn)
	return runner.Run(ctx, r)
}

// defaultCharset takes the charset from LANG, as in en_US.ISO-8859-2
func defaultCharset() string {
	name := os.Getenv("LANG")
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = strings.ToLower(name[i+1:])
	} else {
		name = ""
	}
	if name == "" {
		name = "utf-8"
	}
	return name
}

// getEncoding returns nil for UTF-8, which needs no decoding
func getEncoding(name string) (encoding.Encoding, error) {
	name = strings.ToLower(name)
	if name == "" || name == "utf-8" || name == "utf8" {
		return nil, nil
	}
	enc, err := htmlindex.Get(name)
	if err != nil {
		err = fmt.Errorf("%q: %w", name, err)
	}
	return enc, err
}
