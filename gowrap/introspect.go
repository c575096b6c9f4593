package gowrap

import (
	"fmt"
	"go/types"
	"sort"

	"golang.org/x/tools/go/packages"
)

// IntrospectInterfaces loads a Go package by import path and returns the
// interfaces it exports. The includeFilter, if non-nil, restricts which
// exported names are included. Interfaces that cannot be implemented from
// another package (unexported methods) and generic interfaces are left out.
func IntrospectInterfaces(importPath string, includeFilter map[string]bool) (*PackageModel, error) {
	cfg := &packages.Config{
		Mode: packages.NeedName | packages.NeedTypes,
	}

	pkgs, err := packages.Load(cfg, importPath)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", importPath, err)
	}
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("no packages found for %s", importPath)
	}
	if len(pkgs[0].Errors) > 0 {
		return nil, fmt.Errorf("package errors: %v", pkgs[0].Errors)
	}

	pkg := pkgs[0]
	if pkg.Types == nil {
		return nil, fmt.Errorf("type information not available for %s", importPath)
	}

	model := &PackageModel{
		ImportPath: importPath,
		Name:       pkg.Name,
	}

	scope := pkg.Types.Scope()
	for _, name := range scope.Names() {
		if includeFilter != nil && !includeFilter[name] {
			continue
		}
		tn, ok := scope.Lookup(name).(*types.TypeName)
		if !ok || !tn.Exported() || tn.IsAlias() {
			continue
		}
		if im := extractInterface(tn, pkg.Types); im != nil {
			model.Interfaces = append(model.Interfaces, *im)
		}
	}

	return model, nil
}

func extractInterface(tn *types.TypeName, pkg *types.Package) *InterfaceModel {
	named, ok := tn.Type().(*types.Named)
	if !ok || named.TypeParams().Len() > 0 {
		return nil
	}
	iface, ok := named.Underlying().(*types.Interface)
	if !ok || iface.NumMethods() == 0 || !iface.IsMethodSet() {
		return nil
	}

	im := &InterfaceModel{Name: tn.Name(), GoType: named}
	for i := 0; i < iface.NumMethods(); i++ {
		fn := iface.Method(i)
		if !fn.Exported() {
			return nil
		}
		im.Methods = append(im.Methods, methodModel(fn, pkg))
	}
	sort.Slice(im.Methods, func(i, j int) bool { return im.Methods[i].Name < im.Methods[j].Name })
	return im
}

func methodModel(fn *types.Func, pkg *types.Package) MethodModel {
	sig := fn.Type().(*types.Signature)
	mm := MethodModel{
		Name:     fn.Name(),
		Variadic: sig.Variadic(),
	}

	params := sig.Params()
	for i := 0; i < params.Len(); i++ {
		mm.Params = append(mm.Params, paramModel(params.At(i), pkg))
	}

	results := sig.Results()
	for i := 0; i < results.Len(); i++ {
		mm.Results = append(mm.Results, paramModel(results.At(i), pkg))
	}

	if results.Len() > 0 && isErrorType(results.At(results.Len()-1).Type()) {
		mm.ReturnsErr = true
	}

	return mm
}

func paramModel(v *types.Var, pkg *types.Package) ParamModel {
	return ParamModel{
		Name:    v.Name(),
		GoType:  v.Type(),
		TypeStr: types.TypeString(v.Type(), qualifier(pkg)),
	}
}

func isErrorType(t types.Type) bool {
	return types.Identical(t, types.Universe.Lookup("error").Type())
}

// qualifier spells every package by name, as generated code imports them.
func qualifier(*types.Package) types.Qualifier {
	return func(other *types.Package) string { return other.Name() }
}
