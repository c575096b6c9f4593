package gowrap

import (
	"strings"
	"unicode"

	"github.com/chazu/hostbridge/bridge"
)

// ScriptName is the alias a script may use for a Go method name when
// implementing an interface. e.g., "WriteString" → "writeString",
// "ID" → "id"
func ScriptName(goName string) string {
	return bridge.LowerCamel(goName)
}

// PackageIdent derives a Go identifier from an import path.
// e.g., "encoding/json" → "json", "github.com/x/go-yaml" → "goYaml"
func PackageIdent(importPath string) string {
	parts := strings.Split(importPath, "/")
	return lowerFirst(toPascal(parts[len(parts)-1]))
}

// AdapterName names the generated adapter type for an interface.
// e.g., ("io", "Writer") → "ioWriterAdapter",
// ("sort", "Interface") → "sortInterfaceAdapter"
func AdapterName(pkgName, iface string) string {
	return lowerFirst(toPascal(pkgName)) + iface + "Adapter"
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	r := []rune(s)
	r[0] = unicode.ToLower(r[0])
	return string(r)
}

// toPascal converts a string to PascalCase.
// Handles hyphenated, dotted and underscore-separated names.
func toPascal(s string) string {
	var b strings.Builder
	nextUpper := true
	for _, r := range s {
		if r == '-' || r == '_' || r == '.' {
			nextUpper = true
			continue
		}
		if nextUpper {
			b.WriteRune(unicode.ToUpper(r))
			nextUpper = false
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
