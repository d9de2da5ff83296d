package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Moonlight-Companies/gologger/logger"
	"golang.org/x/sync/errgroup"

	"stacksnap/coloransi"
	"stacksnap/config"
	"stacksnap/coordinator"
	"stacksnap/export"
	"stacksnap/metrics"
	"stacksnap/render"
	"stacksnap/search"
	"stacksnap/session"
)

func main() {
	configFlag := flag.String("config", "", "YAML configuration file")
	searchFlag := flag.String("search", "", "Only show call paths matching this text")
	hideFlag := flag.String("hide", "", "Frame classes to hide (system,user,inline)")
	outputFlag := flag.String("output", "", "Output form: tree, table or text")
	columnsFlag := flag.String("columns", "", "Comma separated columns, or all")
	saveFlag := flag.String("save", "", "Save the snapshot to a .json or .yaml file")
	metricsFlag := flag.String("metrics", "", "Serve prometheus metrics on this address")
	noColorFlag := flag.Bool("no-color", false, "Disable highlight colors")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s:\n", os.Args[0])
		flag.PrintDefaults()
		fmt.Fprintln(flag.CommandLine.Output(), "\nEnvironment:")
		fmt.Fprintln(flag.CommandLine.Output(), config.Usage())
	}
	flag.Parse()

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	// Flags override the file and the environment
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
		case "save":
			cfg.SavePath = *saveFlag
		case "metrics":
			cfg.MetricsAddr = *metricsFlag
		case "no-color":
			cfg.Color = !*noColorFlag
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Printf("Error: %v\n", err)
		flag.Usage()
		os.Exit(1)
	}

	log := logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "stack-snapshot"))

	limit, _ := cfg.Limit()
	hide, _ := cfg.HideRules()
	highlight, _ := cfg.HighlightRules()
	columns, _ := cfg.ColumnList()

	backend, err := newBackend(cfg, limit)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	coord := coordinator.New(backend,
		coordinator.WithMaxFrames(cfg.MaxFrames),
		coordinator.WithUserModeLimit(limit),
		coordinator.WithMetrics(cfg.MetricsAddr != ""),
	)

	var searchOptions []search.Option
	if cfg.CaseSensitive {
		searchOptions = append(searchOptions, search.WithCaseSensitive())
	}
	if cfg.Regex {
		searchOptions = append(searchOptions, search.WithRegex())
	}

	s := session.New(coord,
		session.WithHideRules(hide),
		session.WithHighlightRules(highlight),
		session.WithSearchOptions(searchOptions...),
	)
	if err := s.SetSearchText(cfg.Search); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServe := context.WithCancel(gctx)
	defer stopServe()

	if cfg.MetricsAddr != "" {
		g.Go(func() error {
			log.Infoln("Serving metrics on", cfg.MetricsAddr)
			return metrics.Serve(serveCtx, cfg.MetricsAddr)
		})
	}

	g.Go(func() error {
		defer stopServe()

		s.StartSnapshot(gctx)
		err := s.Follow(gctx, cfg.PollInterval, func(text string) {
			fmt.Fprintf(os.Stderr, "\r\033[K%s", text)
		})
		fmt.Fprintln(os.Stderr)

		if errors.Is(err, context.Canceled) {
			log.Warn("Snapshot cancelled, printing the partial tree")
			return nil
		}
		return err
	})

	if err := g.Wait(); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	opts := render.Options{Columns: columns, Color: cfg.Color && coloransi.IsTerminal(os.Stdout.Fd())}
	if err := render.Write(os.Stdout, s.Store(), cfg.Output, opts); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if cfg.SavePath != "" {
		if err := export.Save(cfg.SavePath, s.Store(), time.Now()); err != nil {
			fmt.Printf("Error saving snapshot: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Snapshot saved to %s\n", cfg.SavePath)
	}
}
