package gowrap

import (
	"go/types"
	"strings"
	"testing"
)

func TestGenerateAdapters(t *testing.T) {
	io, err := IntrospectInterfaces("io", map[string]bool{"Writer": true, "ReadCloser": true})
	if err != nil {
		t.Fatalf("IntrospectInterfaces(io): %v", err)
	}
	sortPkg, err := IntrospectInterfaces("sort", map[string]bool{"Interface": true})
	if err != nil {
		t.Fatalf("IntrospectInterfaces(sort): %v", err)
	}

	res, err := GenerateAdapters("adapters", io, sortPkg)
	if err != nil {
		t.Fatalf("GenerateAdapters: %v", err)
	}
	code := res.Code

	wants := []string{
		"// Code generated by hbwrap. DO NOT EDIT.",
		"package adapters",
		`bridge "github.com/chazu/hostbridge/bridge"`,
		"type ioWriterAdapter struct",
		"func (a ioWriterAdapter) Write(p0 []byte) (int, error)",
		"out := a.p.Call(0, p0)",
		"r1, _ := out[1].(error)",
		"func (a ioReadCloserAdapter) Close() error",
		"func (a ioReadCloserAdapter) Read(p0 []byte) (int, error)",
		"a.p.Call(1, p0)",
		"func (a sortInterfaceAdapter) Swap(p0 int, p1 int)",
		"a.p.Call(2, p0, p1)",
		"func RegisterAdapters(g *bridge.ProxyGenerator) error",
		"reflect.TypeOf((*io.Writer)(nil)).Elem()",
		"return sortInterfaceAdapter{p}",
	}
	for _, want := range wants {
		if !strings.Contains(code, want) {
			t.Errorf("expected generated code to contain %q\n%s", want, code)
		}
	}

	if len(res.Adapters) != 3 {
		t.Errorf("expected 3 adapters, got %v", res.Adapters)
	}
	if len(res.Skipped) != 0 {
		t.Errorf("expected nothing skipped, got %v", res.Skipped)
	}
}

// handModel builds a one-interface model without loading a package.
func handModel(methods ...MethodModel) *PackageModel {
	return &PackageModel{
		ImportPath: "example.com/events",
		Name:       "events",
		Interfaces: []InterfaceModel{{Name: "Sink", Methods: methods}},
	}
}

func TestGenerateVariadicAndFuncTypes(t *testing.T) {
	strs := types.NewSlice(types.Typ[types.String])
	callback := types.NewSignatureType(nil, nil, nil,
		types.NewTuple(types.NewVar(0, nil, "", types.Typ[types.Int])),
		types.NewTuple(types.NewVar(0, nil, "", types.Typ[types.Bool])),
		false)

	model := handModel(
		MethodModel{
			Name:     "Emit",
			Params:   []ParamModel{{GoType: types.Typ[types.String]}, {GoType: strs}},
			Variadic: true,
		},
		MethodModel{
			Name:    "Filter",
			Params:  []ParamModel{{GoType: callback}},
			Results: []ParamModel{{GoType: types.NewMap(types.Typ[types.String], types.NewPointer(types.Typ[types.Int]))}},
		},
	)

	res, err := GenerateAdapters("gen", model)
	if err != nil {
		t.Fatalf("GenerateAdapters: %v", err)
	}
	wants := []string{
		"func (a eventsSinkAdapter) Emit(p0 string, p1 ...string)",
		"a.p.Call(0, p0, p1)",
		"func (a eventsSinkAdapter) Filter(p0 func(int) bool) map[string]*int",
		"r0, _ := out[0].(map[string]*int)",
	}
	for _, want := range wants {
		if !strings.Contains(res.Code, want) {
			t.Errorf("expected generated code to contain %q\n%s", want, res.Code)
		}
	}
}

func TestGenerateSkipsUnsupported(t *testing.T) {
	unnamed := types.NewStruct(nil, nil)
	model := handModel(MethodModel{
		Name:   "Put",
		Params: []ParamModel{{GoType: unnamed}},
	})

	res, err := GenerateAdapters("gen", model)
	if err != nil {
		t.Fatalf("GenerateAdapters: %v", err)
	}
	if len(res.Skipped) != 1 || res.Skipped[0].Interface != "events.Sink" {
		t.Fatalf("expected events.Sink to be skipped, got %v", res.Skipped)
	}
	if !strings.Contains(res.Skipped[0].Reason, "Put") {
		t.Errorf("expected reason to name the method, got %q", res.Skipped[0].Reason)
	}
	if strings.Contains(res.Code, "eventsSinkAdapter") {
		t.Error("expected no adapter for a skipped interface")
	}
	if !strings.Contains(res.Code, "func RegisterAdapters") {
		t.Error("expected RegisterAdapters even when empty")
	}
}
