package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/DevCheckOG/lltsc-idea/pkg/driver"
)

func main() {
	configPath := flag.String("config", "", "build configuration file (lltsc.yml)")
	outputDir := flag.String("o", "", "output directory for link artifacts")
	flag.Parse()

	graphPath := flag.Arg(0)
	if graphPath == "" {
		fmt.Fprintln(os.Stderr, "usage: lltsc [options] <graph.yml>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg := driver.DefaultBuildConfig()
	if *configPath != "" {
		loaded, err := driver.LoadBuildConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		cfg = loaded
	}

	if *outputDir == "" {
		*outputDir = filepath.Join("target", "link")
	}

	graph, err := driver.LoadGraph(graphPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := driver.Build(ctx, cfg, graph)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := result.Write(*outputDir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stdout, "build %s: %s link, %d stubs, %d descriptor records\n",
		result.BuildID, result.Plan.Mode, len(result.Stubs), len(result.Table.Records))
}
