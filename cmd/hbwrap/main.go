// hbwrap generates script adapters for the exported interfaces of Go
// packages.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/hostbridge/config"
	"github.com/chazu/hostbridge/gowrap"
)

func main() {
	verbose := flag.Bool("v", false, "Verbose output")
	outputDir := flag.String("o", "", "Output directory (default from hostbridge.toml, else ./adapters)")
	pkgName := flag.String("pkg", "", "Package name of the generated file (default: output directory name)")
	configDir := flag.String("config", ".", "Directory to search upward from for hostbridge.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hbwrap [options] [importpath[:Name,Name...]...]\n\n")
		fmt.Fprintf(os.Stderr, "Generates bridge adapters for the exported interfaces of Go packages.\n")
		fmt.Fprintf(os.Stderr, "Without arguments the packages come from [wrap] in hostbridge.toml.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  hbwrap io sort                   # every interface in io and sort\n")
		fmt.Fprintf(os.Stderr, "  hbwrap io:Writer,Closer -o gen   # two interfaces into ./gen\n")
		fmt.Fprintf(os.Stderr, "  hbwrap                           # packages from hostbridge.toml\n")
	}
	flag.Parse()

	cfg, err := config.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	specs := flag.Args()
	if len(specs) == 0 {
		specs = cfg.Wrap.Packages
	}
	if len(specs) == 0 {
		fmt.Fprintln(os.Stderr, "Error: no packages specified and no [wrap] packages configured")
		flag.Usage()
		os.Exit(1)
	}

	out := *outputDir
	if out == "" {
		out = cfg.Resolve(cfg.Wrap.Output)
	}
	name := *pkgName
	if name == "" {
		if *outputDir != "" {
			name = sanitizePkgName(filepath.Base(out))
		} else {
			name = cfg.Wrap.Package
		}
	}

	if err := wrap(specs, out, name, *verbose); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type wrapTarget struct {
	ImportPath string
	Include    []string
}

// parseTarget splits "io:Writer,Closer" into an import path and names.
func parseTarget(spec string) wrapTarget {
	path, names, found := strings.Cut(spec, ":")
	t := wrapTarget{ImportPath: path}
	if found {
		for _, n := range strings.Split(names, ",") {
			if n = strings.TrimSpace(n); n != "" {
				t.Include = append(t.Include, n)
			}
		}
	}
	return t
}

func wrap(specs []string, outputDir, pkgName string, verbose bool) error {
	var models []*gowrap.PackageModel
	for _, spec := range specs {
		target := parseTarget(spec)
		if verbose {
			fmt.Printf("Introspecting %s...\n", target.ImportPath)
		}

		var filter map[string]bool
		if len(target.Include) > 0 {
			filter = make(map[string]bool)
			for _, name := range target.Include {
				filter[name] = true
			}
		}

		model, err := gowrap.IntrospectInterfaces(target.ImportPath, filter)
		if err != nil {
			return fmt.Errorf("introspecting %s: %w", target.ImportPath, err)
		}
		if verbose {
			fmt.Printf("  Found %d interfaces\n", len(model.Interfaces))
		}
		models = append(models, model)
	}

	res, err := gowrap.GenerateAdapters(pkgName, models...)
	if err != nil {
		return err
	}
	for _, s := range res.Skipped {
		fmt.Fprintf(os.Stderr, "Warning: skipped %s: %s\n", s.Interface, s.Reason)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}
	path := filepath.Join(outputDir, "adapters_gen.go")
	if err := os.WriteFile(path, []byte(res.Code), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}

	if verbose {
		fmt.Printf("Wrote %d adapter(s) to %s\n", len(res.Adapters), path)
	}
	return nil
}

func sanitizePkgName(name string) string {
	return strings.ToLower(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}
