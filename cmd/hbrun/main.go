// hbrun runs a Lua script against a demo host surface exposed through the
// bridge, then optionally records the call-site profile.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	lua "github.com/yuin/gopher-lua"

	"github.com/chazu/hostbridge/bridge"
	"github.com/chazu/hostbridge/config"
	"github.com/chazu/hostbridge/profile"
)

type options struct {
	verbose   int
	stats     bool
	profile   string
	database  string
	label     string
	configDir string
}

func main() {
	var opts options
	verbose := flag.Bool("v", false, "Verbose output (debug logging)")
	flag.BoolVar(&opts.stats, "stats", false, "Print call site statistics after the run")
	flag.StringVar(&opts.profile, "profile", "", "Write a CBOR profile snapshot to this file")
	flag.StringVar(&opts.database, "db", "", "Record the snapshot in this SQLite database")
	flag.StringVar(&opts.label, "label", "", "Label for the recorded snapshot (default: script path)")
	flag.StringVar(&opts.configDir, "config", ".", "Directory to search upward from for hostbridge.toml")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: hbrun [options] script.lua\n\n")
		fmt.Fprintf(os.Stderr, "Runs a Lua script with the demo host surface (Console, Counter).\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  hbrun demo.lua                       # run\n")
		fmt.Fprintf(os.Stderr, "  hbrun -stats demo.lua                # run, print binding cache stats\n")
		fmt.Fprintf(os.Stderr, "  hbrun -profile out.cbor -db p.db demo.lua\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	if *verbose {
		opts.verbose = 2
	}

	if err := run(flag.Arg(0), opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(script string, opts options, out io.Writer) error {
	cfg, err := config.FindAndLoad(opts.configDir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default()
	}

	verbosity := cfg.Log.Verbosity
	if opts.verbose > verbosity {
		verbosity = opts.verbose
	}
	commonlog.Configure(verbosity, cfg.LogPath())
	log := commonlog.GetLogger("hostbridge.hbrun")

	L := lua.NewState()
	defer L.Close()

	b := bridge.New(L, cfg.Options()...)
	defer b.Close()

	if err := registerHost(b, out); err != nil {
		return fmt.Errorf("registering host surface: %w", err)
	}

	log.Infof("running %s", script)
	if err := L.DoFile(script); err != nil {
		if ce, ok := bridge.CallErrorFrom(err); ok {
			return fmt.Errorf("%s error in %s: %w", ce.Kind, ce.Source, ce.Err)
		}
		return err
	}

	if opts.stats {
		printStats(out, b)
	}

	profilePath := opts.profile
	if profilePath == "" {
		profilePath = cfg.Resolve(cfg.Profile.Output)
	}
	dbPath := opts.database
	if dbPath == "" {
		dbPath = cfg.Resolve(cfg.Profile.Database)
	}
	if profilePath == "" && dbPath == "" {
		return nil
	}

	label := opts.label
	if label == "" {
		label = script
	}
	snap := profile.Take(b, label)

	if profilePath != "" {
		if err := profile.WriteFile(profilePath, snap); err != nil {
			return fmt.Errorf("writing profile: %w", err)
		}
		log.Infof("wrote profile to %s", profilePath)
	}
	if dbPath != "" {
		store, err := profile.Open(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()
		id, err := store.Record(snap)
		if err != nil {
			return err
		}
		log.Infof("recorded snapshot %d in %s", id, dbPath)
	}
	return nil
}

func printStats(w io.Writer, b *bridge.Bridge) {
	st := b.Stats()
	fmt.Fprintf(w, "Call sites: %d (%d bound, %d empty)\n", st.TotalSites, st.Bound, st.Empty)
	fmt.Fprintf(w, "Hits: %d  Misses: %d  Rebinds: %d  Hit rate: %.1f%%\n",
		st.TotalHits, st.TotalMisses, st.Rebinds, st.HitRate)
	for _, cs := range b.Sites().Sites() {
		fmt.Fprintf(w, "  %-28s %-11s %-5s hits=%d misses=%d rebinds=%d\n",
			cs.Source(), cs.Kind(), cs.State, cs.Hits, cs.Misses, cs.Rebinds)
	}
}
