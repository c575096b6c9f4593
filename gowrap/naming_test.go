package gowrap

import "testing"

func TestScriptName(t *testing.T) {
	tests := []struct {
		name     string
		expected string
	}{
		{"Write", "write"},
		{"WriteString", "writeString"},
		{"ID", "id"},
		{"Len", "len"},
		{"already", "already"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScriptName(tt.name); got != tt.expected {
				t.Errorf("ScriptName(%q) = %q, want %q", tt.name, got, tt.expected)
			}
		})
	}
}

func TestPackageIdent(t *testing.T) {
	tests := []struct {
		importPath string
		expected   string
	}{
		{"io", "io"},
		{"encoding/json", "json"},
		{"net/http/httptest", "httptest"},
		{"github.com/x/go-yaml", "goYaml"},
		{"gopkg.in/yaml.v3", "yamlV3"},
	}
	for _, tt := range tests {
		t.Run(tt.importPath, func(t *testing.T) {
			if got := PackageIdent(tt.importPath); got != tt.expected {
				t.Errorf("PackageIdent(%q) = %q, want %q", tt.importPath, got, tt.expected)
			}
		})
	}
}

func TestAdapterName(t *testing.T) {
	tests := []struct {
		pkg, iface string
		expected   string
	}{
		{"io", "Writer", "ioWriterAdapter"},
		{"sort", "Interface", "sortInterfaceAdapter"},
		{"fmt", "Stringer", "fmtStringerAdapter"},
		{"go_yaml", "Marshaler", "goYamlMarshalerAdapter"},
	}
	for _, tt := range tests {
		if got := AdapterName(tt.pkg, tt.iface); got != tt.expected {
			t.Errorf("AdapterName(%q, %q) = %q, want %q", tt.pkg, tt.iface, got, tt.expected)
		}
	}
}
