// Package gowrap introspects Go packages and generates script adapters for
// their exported interfaces.
package gowrap

import "go/types"

// PackageModel is the in-memory representation of the interfaces a Go
// package exports.
type PackageModel struct {
	ImportPath string
	Name       string // short package name (e.g., "io")
	Interfaces []InterfaceModel
}

// InterfaceModel represents an exported, non-generic interface type.
type InterfaceModel struct {
	Name    string
	GoType  types.Type
	Methods []MethodModel // sorted by name, matching reflect's method order
}

// MethodModel represents one interface method.
type MethodModel struct {
	Name       string
	Params     []ParamModel
	Results    []ParamModel
	Variadic   bool // last param is ...T; its GoType is the slice
	ReturnsErr bool // true if last result is error
}

// ParamModel represents a method parameter or result.
type ParamModel struct {
	Name    string
	GoType  types.Type
	TypeStr string // human-readable type string (e.g., "[]byte", "io.Reader")
}
