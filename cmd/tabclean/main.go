// Command tabclean applies a rule file to a CSV (or dataset JSON) file and
// writes the cleaned dataset as CSV, JSON or TDE.
//
//	tabclean -in people.csv -rules rules.yaml -out people_clean.csv
//	cat people.csv | tabclean -rules rules.json -format json > clean.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/JonMunkholm/tabclean/internal/dataset"
	"github.com/JonMunkholm/tabclean/internal/engine"
	"github.com/JonMunkholm/tabclean/internal/logging"
	"github.com/JonMunkholm/tabclean/internal/rules"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitRuleFail = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	in, rules, out, format string
	logLevel, logFormat    string
	strict, quiet          bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("tabclean", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.in, "in", "-", "input CSV or dataset JSON file (- for stdin)")
	fs.StringVar(&o.rules, "rules", "", "rule file, JSON or YAML (required)")
	fs.StringVar(&o.out, "out", "-", "output file (- for stdout)")
	fs.StringVar(&o.format, "format", "", "output format: csv, json or tde (default: from -out extension, else csv)")
	fs.StringVar(&o.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	fs.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
	fs.BoolVar(&o.strict, "strict", false, "exit with status 3 when a rule is skipped or rolled back")
	fs.BoolVar(&o.quiet, "quiet", false, "do not print the pass summary to stderr")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: tabclean -rules FILE [-in FILE] [-out FILE] [-format csv|json|tde]")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	if o.rules == "" {
		return o, errors.New("-rules is required")
	}
	return o, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintln(stderr, "tabclean:", err)
		return exitUsage
	}

	logger := logging.New(stderr, opts.logLevel, opts.logFormat)

	format, err := outputFormat(opts.format, opts.out)
	if err != nil {
		fmt.Fprintln(stderr, "tabclean:", err)
		return exitUsage
	}

	ds, err := readDataset(ctx, opts.in, stdin)
	if err != nil {
		fmt.Fprintln(stderr, "tabclean:", err)
		return exitError
	}

	list, err := rules.ReadRulesFile(opts.rules)
	if err != nil {
		fmt.Fprintln(stderr, "tabclean:", err)
		return exitError
	}
	logger.Info("loaded input",
		"source", ds.Metadata.SourceName,
		"rows", ds.Metadata.RowCount,
		"columns", ds.Metadata.ColumnCount,
		"rules", len(list),
	)

	execOpts := []engine.Option{engine.WithLogger(logger)}
	if !opts.quiet {
		// logCleaningActions rules print their lines as they run.
		execOpts = append(execOpts, engine.WithObserver(engine.ObserverFunc(func(e engine.Event) {
			if e.Type == engine.EventAction {
				fmt.Fprintln(stderr, e.Message)
			}
		})))
	}
	exec := engine.New(execOpts...)
	res := exec.Run(ctx, ds, list)
	if err := ctx.Err(); err != nil {
		fmt.Fprintln(stderr, "tabclean: interrupted:", err)
		return exitError
	}

	if err := writeDataset(opts.out, stdout, res.Dataset, format); err != nil {
		fmt.Fprintln(stderr, "tabclean:", err)
		return exitError
	}

	if !opts.quiet {
		report(stderr, len(ds.Rows), res)
	}
	if opts.strict && res.HasErrors() {
		return exitRuleFail
	}
	return exitOK
}

// outputFormat resolves -format, falling back to the -out extension.
func outputFormat(flagValue, out string) (dataset.ExportFormat, error) {
	if flagValue != "" {
		return dataset.ParseExportFormat(flagValue)
	}
	if ext := strings.TrimPrefix(filepath.Ext(out), "."); ext != "" && out != "-" {
		if f, err := dataset.ParseExportFormat(ext); err == nil {
			return f, nil
		}
	}
	return dataset.FormatCSV, nil
}

func readDataset(ctx context.Context, path string, stdin io.Reader) (*dataset.Dataset, error) {
	var (
		r    io.Reader
		name string
	)
	if path == "-" {
		r, name = stdin, "stdin.csv"
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r, name = f, filepath.Base(path)
	}

	var (
		ds  *dataset.Dataset
		err error
	)
	if strings.EqualFold(filepath.Ext(name), ".json") {
		ds, err = dataset.ParseJSONContext(ctx, r, name)
	} else {
		ds, err = dataset.ParseContext(ctx, r, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if err := ds.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return ds, nil
}

// writeDataset writes to a temp file and renames it into place, so a failed
// export never leaves a truncated output behind.
func writeDataset(path string, stdout io.Writer, ds *dataset.Dataset, format dataset.ExportFormat) error {
	if path == "-" {
		return dataset.Export(stdout, ds, format)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tabclean-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := dataset.Export(tmp, ds, format); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func report(w io.Writer, rowsIn int, res *engine.Result) {
	fmt.Fprintf(w, "%d applied, %d skipped, %d failed, %d disabled; %d -> %d rows in %s\n",
		res.Applied, res.Skipped, res.Failed, res.Disabled, rowsIn, len(res.Dataset.Rows), res.Duration)
	for _, d := range res.Diagnostics {
		fmt.Fprintln(w, "  "+d.String())
	}
}
