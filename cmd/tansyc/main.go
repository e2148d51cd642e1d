// Tansyc compiles bytecode function images ahead of a run: each image is
// decoded, translated and recorded in the compile cache, and the cache
// contents can be listed afterwards.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"

	"github.com/chazu/tansy/dist"
	"github.com/chazu/tansy/jit"
	"github.com/chazu/tansy/manifest"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Int("v", 0, "Log verbosity (0-2)")
	dump := flag.Bool("dump", false, "Log bytecode disassembly per compiled function")
	cachePath := flag.String("cache", "", "Compile cache path (overrides tansy.toml)")
	list := flag.Bool("list", false, "List compile cache contents and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: tansyc [options] [image...]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles CBOR function images and records them in the compile cache.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  tansyc fn.cbor             # Compile one image\n")
		fmt.Fprintf(os.Stderr, "  tansyc -dump -v 2 fn.cbor  # With disassembly logging\n")
		fmt.Fprintf(os.Stderr, "  tansyc -list               # Show what the cache holds\n")
	}
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	cfg := jit.Config{DumpCode: *dump}

	// tansy.toml supplies defaults; flags win.
	m, err := manifest.FindAndLoad(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	path := *cachePath
	if path == "" && m != nil && m.Cache.Enabled {
		path = m.CachePath()
	}
	if m != nil && m.Compiler.DumpCode {
		cfg.DumpCode = true
	}

	var cache *jit.Cache
	if path != "" || *list {
		if path == "" {
			path = filepath.Join(".tansy", "cache.db")
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		cache, err = jit.OpenCache(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer cache.Close()
		cfg.Cache = cache
	}

	if *list {
		if err := listCache(cache); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	compiler := jit.New(cfg)
	failed := 0
	for _, img := range flag.Args() {
		if err := compileImage(compiler, img); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", img, err)
			failed++
		}
	}

	stats := compiler.Stats()
	fmt.Printf("%d compiled, %d failed, %s total\n", stats.Compiled, stats.Failed, stats.Time)
	if failed > 0 {
		os.Exit(1)
	}
}

func compileImage(compiler *jit.Compiler, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	fn, err := dist.UnmarshalFunction(data)
	if err != nil {
		return err
	}
	cp, err := compiler.Compile(fn)
	if err != nil {
		return err
	}
	fmt.Printf("%s: %d code words, %d stack slots\n", cp.Name(), len(fn.Code), cp.StackSlots)
	return nil
}

func listCache(cache *jit.Cache) error {
	records, err := cache.Records()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("cache is empty")
		return nil
	}
	for _, r := range records {
		fmt.Printf("%08x  %-24s  %4d words  %4d insts  %3d slots  %s\n",
			r.Checksum, r.Name, r.CodeWords, r.Instructions, r.StackSlots, r.Duration)
	}
	return nil
}
