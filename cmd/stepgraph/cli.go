package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rendis/stepgraph/internal/diagram"
	"github.com/rendis/stepgraph/internal/expressions"
	"github.com/rendis/stepgraph/internal/layout"
	"github.com/rendis/stepgraph/internal/snapshot"
	"github.com/rendis/stepgraph/internal/validation"
	"github.com/rendis/stepgraph/pkg/schema"
)

// inputFlags are shared by the commands that read a snapshot file.
type inputFlags struct {
	format string
	query  string
	schema string
}

func (f *inputFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.format, "format", "", "input format: json or yaml (default: from extension, then content)")
	fs.StringVar(&f.query, "query", "", "jq expression selecting the step array, e.g. .data.steps")
	fs.StringVar(&f.schema, "schema", "", "extra JSON Schema the snapshot must satisfy")
}

// readSnapshot reads path ("-" is stdin) and decodes it. With validate unset
// the structural check is left to the caller.
func readSnapshot(ctx context.Context, path string, in inputFlags, validate bool) (*snapshot.Snapshot, validation.Validator, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, nil, err
	}

	name := in.format
	if name == "" {
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".json", ".yaml", ".yml":
			name = ext
		}
	}
	format, err := snapshot.ParseFormat(name)
	if err != nil {
		return nil, nil, err
	}

	v, err := newValidator(in.schema)
	if err != nil {
		return nil, nil, err
	}
	opts := snapshot.Options{Format: format, Query: in.query}
	if validate {
		opts.Validator = v
	}
	snap, err := snapshot.Decode(ctx, data, opts)
	if err != nil {
		return nil, nil, err
	}
	return snap, v, nil
}

// fileArg returns the single positional argument.
func fileArg(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", fmt.Errorf("%s: expected one snapshot file (or - for stdin)", fs.Name())
	}
	return fs.Arg(0), nil
}

// applyHighlight marks nodes matching where. A zero where is a no-op.
func applyHighlight(ctx context.Context, l *layout.Layout, where, lang string) error {
	if where == "" {
		return nil
	}
	eng, err := expressions.New(lang)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = layout.Highlight(ctx, eng, where, l)
	return err
}

func fail(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return 1
}

func runLayout(args []string) int {
	fs := flag.NewFlagSet("layout", flag.ContinueOnError)
	var in inputFlags
	in.register(fs)
	where := fs.String("where", "", "highlight steps matching this expression")
	lang := fs.String("lang", "", "expression language: cel (default), expr or jq")
	compact := fs.Bool("compact", false, "print compact JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path, err := fileArg(fs)
	if err != nil {
		return fail(err)
	}

	ctx := context.Background()
	snap, _, err := readSnapshot(ctx, path, in, true)
	if err != nil {
		return fail(err)
	}
	l := layout.Compute(snap.Steps)
	if err := applyHighlight(ctx, l, *where, *lang); err != nil {
		return fail(err)
	}

	enc := json.NewEncoder(os.Stdout)
	if !*compact {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(l); err != nil {
		return fail(err)
	}
	return 0
}

func runRender(args []string) int {
	fs := flag.NewFlagSet("render", flag.ContinueOnError)
	var in inputFlags
	in.register(fs)
	kind := fs.String("diagram", "ascii", "diagram kind: ascii, mermaid or image")
	out := fs.String("o", "", "output file (required for image)")
	title := fs.String("title", "", "diagram title (default: file name)")
	color := fs.Bool("color", true, "color ASCII boxes by status on color terminals")
	where := fs.String("where", "", "highlight steps matching this expression")
	lang := fs.String("lang", "", "expression language: cel (default), expr or jq")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path, err := fileArg(fs)
	if err != nil {
		return fail(err)
	}
	if *kind == "image" && *out == "" {
		return fail(fmt.Errorf("render: -o is required for image output"))
	}

	ctx := context.Background()
	snap, _, err := readSnapshot(ctx, path, in, true)
	if err != nil {
		return fail(err)
	}
	l := layout.Compute(snap.Steps)
	if err := applyHighlight(ctx, l, *where, *lang); err != nil {
		return fail(err)
	}

	t := *title
	if t == "" && path != "-" {
		t = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	model := diagram.Build(l, t)

	var rendered []byte
	switch *kind {
	case "ascii":
		rendered = []byte(diagram.RenderASCIIAuto(ctx, model, binDir(), diagram.ASCIIOptions{Color: *color && *out == ""}))
	case "mermaid":
		rendered = []byte(diagram.RenderMermaid(model))
	case "image":
		rendered, err = diagram.RenderImage(ctx, model)
		if err != nil {
			return fail(err)
		}
	default:
		return fail(fmt.Errorf("render: unknown diagram kind %q: must be ascii, mermaid or image", *kind))
	}

	if *out == "" {
		_, err = os.Stdout.Write(rendered)
	} else {
		err = os.WriteFile(*out, rendered, 0o644)
	}
	if err != nil {
		return fail(err)
	}
	return 0
}

func runLint(args []string) int {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	var in inputFlags
	in.register(fs)
	strict := fs.Bool("strict", false, "exit non-zero on warnings too")
	asJSON := fs.Bool("json", false, "print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	path, err := fileArg(fs)
	if err != nil {
		return fail(err)
	}

	snap, v, err := readSnapshot(context.Background(), path, in, false)
	if err != nil {
		return fail(err)
	}
	result := validation.Report(v, snap.Doc, snap.Steps)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fail(err)
		}
	} else {
		printIssues("error", result.Errors)
		printIssues("warning", result.Warnings)
		fmt.Printf("%d error(s), %d warning(s)\n", len(result.Errors), len(result.Warnings))
	}

	if !result.Valid() || (*strict && !result.Clean()) {
		return 1
	}
	return 0
}

func printIssues(kind string, issues []schema.ValidationIssue) {
	for _, issue := range issues {
		fmt.Printf("%s\t%s\t%s\t%s\n", kind, issue.Path, issue.Code, issue.Message)
	}
}
