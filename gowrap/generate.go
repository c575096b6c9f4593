package gowrap

import (
	"bytes"
	"fmt"
	"go/types"

	"github.com/dave/jennifer/jen"
)

const bridgePath = "github.com/chazu/hostbridge/bridge"

// Result contains the generated code and the interfaces that were left out.
type Result struct {
	Code     string
	Adapters []string // "io.Writer" for every generated adapter
	Skipped  []Skipped
}

// Skipped records an interface no adapter could be generated for.
type Skipped struct {
	Interface string
	Reason    string
}

// GenerateAdapters renders one Go file in package pkgName holding an
// adapter type per interface in models, each method forwarding through
// (*bridge.Proxy).Call, plus a RegisterAdapters function installing them
// into a ProxyGenerator.
func GenerateAdapters(pkgName string, models ...*PackageModel) (*Result, error) {
	f := jen.NewFile(pkgName)
	f.HeaderComment("Code generated by hbwrap. DO NOT EDIT.")
	f.ImportName(bridgePath, "bridge")

	res := &Result{}
	var regs []jen.Code

	for _, pm := range models {
		for _, im := range pm.Interfaces {
			qualified := pm.Name + "." + im.Name
			decls, err := adapterDecls(pm, im)
			if err != nil {
				res.Skipped = append(res.Skipped, Skipped{Interface: qualified, Reason: err.Error()})
				continue
			}
			for _, d := range decls {
				f.Add(d)
			}
			f.Line()

			iface := jen.Qual("reflect", "TypeOf").Call(
				jen.Parens(jen.Op("*").Qual(pm.ImportPath, im.Name)).Call(jen.Nil()),
			).Dot("Elem").Call()
			factory := jen.Func().Params(jen.Id("p").Op("*").Qual(bridgePath, "Proxy")).Any().Block(
				jen.Return(jen.Id(AdapterName(pm.Name, im.Name)).Values(jen.Id("p"))),
			)
			regs = append(regs, jen.If(
				jen.Err().Op(":=").Id("g").Dot("RegisterAdapter").Call(iface, factory, jen.Nil()),
				jen.Err().Op("!=").Nil(),
			).Block(jen.Return(jen.Err())))
			res.Adapters = append(res.Adapters, qualified)
		}
	}

	regs = append(regs, jen.Return(jen.Nil()))
	f.Comment("RegisterAdapters installs every adapter in this file.")
	f.Func().Id("RegisterAdapters").Params(jen.Id("g").Op("*").Qual(bridgePath, "ProxyGenerator")).Error().Block(regs...)

	var buf bytes.Buffer
	if err := f.Render(&buf); err != nil {
		return nil, fmt.Errorf("rendering adapters: %w", err)
	}
	res.Code = buf.String()
	return res, nil
}

// adapterDecls builds the adapter struct and its methods. Method indexes
// follow the model's name order, which is the order the bridge assigns.
func adapterDecls(pm *PackageModel, im InterfaceModel) ([]jen.Code, error) {
	name := AdapterName(pm.Name, im.Name)
	decls := []jen.Code{
		jen.Commentf("%s adapts a script value to %s.%s.", name, pm.Name, im.Name),
		jen.Type().Id(name).Struct(jen.Id("p").Op("*").Qual(bridgePath, "Proxy")),
	}

	for i, m := range im.Methods {
		method, err := adapterMethod(name, i, m)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Name, err)
		}
		decls = append(decls, jen.Line(), method)
	}
	return decls, nil
}

func adapterMethod(adapter string, index int, m MethodModel) (jen.Code, error) {
	params := make([]jen.Code, len(m.Params))
	args := []jen.Code{jen.Lit(index)}
	for j, p := range m.Params {
		id := fmt.Sprintf("p%d", j)
		t := p.GoType
		variadic := m.Variadic && j == len(m.Params)-1
		if variadic {
			t = t.(*types.Slice).Elem()
		}
		tc, err := typeCode(t)
		if err != nil {
			return nil, err
		}
		if variadic {
			params[j] = jen.Id(id).Op("...").Add(tc)
		} else {
			params[j] = jen.Id(id).Add(tc)
		}
		args = append(args, jen.Id(id))
	}

	results := make([]jen.Code, len(m.Results))
	for k, r := range m.Results {
		tc, err := typeCode(r.GoType)
		if err != nil {
			return nil, err
		}
		results[k] = tc
	}

	call := jen.Id("a").Dot("p").Dot("Call").Call(args...)
	var body []jen.Code
	if len(results) == 0 {
		body = []jen.Code{call}
	} else {
		body = append(body, jen.Id("out").Op(":=").Add(call))
		ids := make([]jen.Code, len(results))
		for k := range results {
			rid := fmt.Sprintf("r%d", k)
			body = append(body, jen.List(jen.Id(rid), jen.Id("_")).Op(":=").Id("out").Index(jen.Lit(k)).Assert(results[k]))
			ids[k] = jen.Id(rid)
		}
		body = append(body, jen.Return(ids...))
	}

	fn := jen.Func().Params(jen.Id("a").Id(adapter)).Id(m.Name).Params(params...)
	switch len(results) {
	case 0:
	case 1:
		fn.Add(results[0])
	default:
		fn.Params(results...)
	}
	return fn.Block(body...), nil
}

// typeCode spells t for the generated file.
func typeCode(t types.Type) (*jen.Statement, error) {
	switch t := types.Unalias(t).(type) {
	case *types.Basic:
		if t.Info()&types.IsUntyped != 0 {
			return nil, fmt.Errorf("untyped %s", t)
		}
		if t.Kind() == types.UnsafePointer {
			return jen.Qual("unsafe", "Pointer"), nil
		}
		return jen.Id(t.Name()), nil

	case *types.Named:
		obj := t.Obj()
		if t.TypeArgs().Len() > 0 {
			return nil, fmt.Errorf("instantiated generic type %s", t)
		}
		if obj.Pkg() == nil {
			return jen.Id(obj.Name()), nil
		}
		if !obj.Exported() {
			return nil, fmt.Errorf("unexported type %s", t)
		}
		return jen.Qual(obj.Pkg().Path(), obj.Name()), nil

	case *types.Pointer:
		elem, err := typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		return jen.Op("*").Add(elem), nil

	case *types.Slice:
		elem, err := typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		return jen.Index().Add(elem), nil

	case *types.Array:
		elem, err := typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		return jen.Index(jen.Lit(int(t.Len()))).Add(elem), nil

	case *types.Map:
		key, err := typeCode(t.Key())
		if err != nil {
			return nil, err
		}
		elem, err := typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		return jen.Map(key).Add(elem), nil

	case *types.Chan:
		elem, err := typeCode(t.Elem())
		if err != nil {
			return nil, err
		}
		switch t.Dir() {
		case types.SendOnly:
			return jen.Chan().Op("<-").Add(elem), nil
		case types.RecvOnly:
			return jen.Op("<-").Chan().Add(elem), nil
		}
		return jen.Chan().Add(elem), nil

	case *types.Signature:
		return signatureCode(t)

	case *types.Interface:
		if t.Empty() {
			return jen.Any(), nil
		}
		return nil, fmt.Errorf("anonymous interface %s", t)
	}
	return nil, fmt.Errorf("unsupported type %s", t)
}

func signatureCode(sig *types.Signature) (*jen.Statement, error) {
	var params, results []jen.Code
	for i := 0; i < sig.Params().Len(); i++ {
		t := sig.Params().At(i).Type()
		variadic := sig.Variadic() && i == sig.Params().Len()-1
		if variadic {
			t = t.(*types.Slice).Elem()
		}
		tc, err := typeCode(t)
		if err != nil {
			return nil, err
		}
		if variadic {
			tc = jen.Op("...").Add(tc)
		}
		params = append(params, tc)
	}
	for i := 0; i < sig.Results().Len(); i++ {
		tc, err := typeCode(sig.Results().At(i).Type())
		if err != nil {
			return nil, err
		}
		results = append(results, tc)
	}
	fn := jen.Func().Params(params...)
	if len(results) == 1 {
		return fn.Add(results[0]), nil
	}
	if len(results) > 1 {
		return fn.Params(results...), nil
	}
	return fn, nil
}
