package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseTarget(t *testing.T) {
	tg := parseTarget("io:Writer, Closer,")
	if tg.ImportPath != "io" {
		t.Errorf("import path = %q, want io", tg.ImportPath)
	}
	if len(tg.Include) != 2 || tg.Include[0] != "Writer" || tg.Include[1] != "Closer" {
		t.Errorf("include = %v, want [Writer Closer]", tg.Include)
	}

	tg = parseTarget("encoding/json")
	if tg.ImportPath != "encoding/json" || tg.Include != nil {
		t.Errorf("unexpected target %+v", tg)
	}
}

func TestSanitizePkgName(t *testing.T) {
	if got := sanitizePkgName("My-Adapters.v2"); got != "my_adapters_v2" {
		t.Errorf("sanitizePkgName = %q", got)
	}
}

func TestWrapWritesFile(t *testing.T) {
	dir := t.TempDir()
	if err := wrap([]string{"fmt:Stringer"}, dir, "gen", false); err != nil {
		t.Fatalf("wrap: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "adapters_gen.go"))
	if err != nil {
		t.Fatal(err)
	}
	code := string(data)
	if !strings.Contains(code, "package gen") || !strings.Contains(code, "fmtStringerAdapter") {
		t.Errorf("unexpected output:\n%s", code)
	}
}
