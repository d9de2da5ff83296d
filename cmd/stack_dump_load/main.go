package main

import (
	"flag"
	"fmt"
	"os"

	"stacksnap/coloransi"
	"stacksnap/config"
	"stacksnap/export"
	"stacksnap/filter"
	"stacksnap/render"
	"stacksnap/search"
)

func main() {
	fromFlag := flag.String("from", "", "Snapshot file saved by stack_snapshot (.json or .yaml)")
	configFlag := flag.String("config", "", "YAML configuration file")
	searchFlag := flag.String("search", "", "Only show call paths matching this text")
	hideFlag := flag.String("hide", "", "Frame classes to hide (system,user,inline)")
	outputFlag := flag.String("output", "", "Output form: tree, table or text")
	columnsFlag := flag.String("columns", "", "Comma separated columns, or all")
	collapseFlag := flag.Bool("collapse", false, "Show processes only")
	flag.Parse()

	if *fromFlag == "" {
		fmt.Println("Error: --from is required")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "search":
			cfg.Search = *searchFlag
		case "hide":
			cfg.HideFrames = *hideFlag
		case "output":
			cfg.Output = render.Output(*outputFlag)
		case "columns":
			cfg.Columns = *columnsFlag
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	store, doc, err := export.Load(*fromFlag)
	if err != nil {
		fmt.Printf("Error loading snapshot from %s: %v\n", *fromFlag, err)
		os.Exit(1)
	}

	fmt.Printf("Loaded snapshot %s taken %s\n", doc.Generation, doc.Taken.Local().Format("2006-01-02 15:04:05"))
	fmt.Printf("Processes: %d, nodes: %d\n\n", len(store.Roots()), store.Len())

	limit, _ := cfg.Limit()
	hide, _ := cfg.HideRules()
	highlight, _ := cfg.HighlightRules()
	columns, _ := cfg.ColumnList()

	var options []search.Option
	if cfg.CaseSensitive {
		options = append(options, search.WithCaseSensitive())
	}
	if cfg.Regex {
		options = append(options, search.WithRegex())
	}
	matcher, err := search.New(cfg.Search, options...)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	for _, n := range store.Nodes() {
		n.View().Expanded = !*collapseFlag
	}
	filter.Filter{Rules: hide, Matcher: matcher, UserModeLimit: limit}.Apply(store)
	filter.ApplyHighlight(store, highlight, limit)

	opts := render.Options{Columns: columns, Color: cfg.Color && coloransi.IsTerminal(os.Stdout.Fd())}
	if err := render.Write(os.Stdout, store, cfg.Output, opts); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}
