package driver

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/DevCheckOG/lltsc-idea/pkg/ir"
)

// Graph description file: the serialized typed IR handed over by the front
// end. One unit per entry, with declared types written in a compact textual
// form ("number", "[string]", "{x:number,y:number}", "fn(2)", "unknown").

type graphDisk struct {
	Units []unitDisk `yaml:"units"`
}

type unitDisk struct {
	ID       string     `yaml:"id"`
	Module   string     `yaml:"module,omitempty"`
	Params   []string   `yaml:"params,omitempty"`
	Result   string     `yaml:"result,omitempty"`
	Features []string   `yaml:"features,omitempty"`
	Calls    []callDisk `yaml:"calls,omitempty"`
}

type callDisk struct {
	ID     string `yaml:"id"`
	Callee string `yaml:"callee"`
}

// LoadGraph parses a graph description file into a validated IR graph.
func LoadGraph(path string) (*ir.Graph, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("driver: resolve %s: %w", path, err)
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var disk graphDisk
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&disk); err != nil {
		return nil, fmt.Errorf("driver: parse %s: %w", abs, err)
	}

	units := make([]*ir.Unit, 0, len(disk.Units))
	for _, ud := range disk.Units {
		unit := &ir.Unit{
			ID:     ir.UnitID(ud.ID),
			Module: ud.Module,
		}
		for i, p := range ud.Params {
			t, err := ParseType(p)
			if err != nil {
				return nil, fmt.Errorf("driver: unit %s param %d: %w", ud.ID, i, err)
			}
			unit.Signature.Params = append(unit.Signature.Params, t)
		}
		if ud.Result != "" {
			t, err := ParseType(ud.Result)
			if err != nil {
				return nil, fmt.Errorf("driver: unit %s result: %w", ud.ID, err)
			}
			unit.Signature.Result = t
		}
		for _, f := range ud.Features {
			unit.Features = append(unit.Features, ir.DynFeature(f))
		}
		for _, c := range ud.Calls {
			unit.CallSites = append(unit.CallSites, ir.CallSite{
				ID:     ir.CallSiteID(c.ID),
				Caller: unit.ID,
				Callee: ir.UnitID(c.Callee),
			})
		}
		units = append(units, unit)
	}
	return ir.NewGraph(units)
}

// ParseType parses the compact textual type form used in graph files.
func ParseType(s string) (*ir.StaticType, error) {
	p := &typeParser{input: strings.TrimSpace(s)}
	t, err := p.parse()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.input) {
		return nil, fmt.Errorf("trailing input %q in type %q", p.input[p.pos:], s)
	}
	return t, nil
}

type typeParser struct {
	input string
	pos   int
}

func (p *typeParser) parse() (*ir.StaticType, error) {
	if p.pos >= len(p.input) {
		return nil, fmt.Errorf("empty type")
	}
	switch p.input[p.pos] {
	case '[':
		p.pos++
		elem, err := p.parse()
		if err != nil {
			return nil, err
		}
		if err := p.expect(']'); err != nil {
			return nil, err
		}
		return &ir.StaticType{Kind: ir.TypeArray, Element: elem}, nil
	case '{':
		p.pos++
		fields := make(map[string]*ir.StaticType)
		for {
			name := p.ident()
			if name == "" {
				return nil, fmt.Errorf("expected field name at %d in %q", p.pos, p.input)
			}
			if err := p.expect(':'); err != nil {
				return nil, err
			}
			ft, err := p.parse()
			if err != nil {
				return nil, err
			}
			fields[name] = ft
			if p.pos < len(p.input) && p.input[p.pos] == ',' {
				p.pos++
				continue
			}
			break
		}
		if err := p.expect('}'); err != nil {
			return nil, err
		}
		return &ir.StaticType{Kind: ir.TypeRecord, Fields: fields}, nil
	}
	word := p.ident()
	switch word {
	case "number":
		return &ir.StaticType{Kind: ir.TypeNumber}, nil
	case "string":
		return &ir.StaticType{Kind: ir.TypeString}, nil
	case "bool":
		return &ir.StaticType{Kind: ir.TypeBool}, nil
	case "nil":
		return &ir.StaticType{Kind: ir.TypeNil}, nil
	case "unknown":
		return ir.Unknown, nil
	case "fn":
		if err := p.expect('('); err != nil {
			return nil, err
		}
		arity := p.ident()
		n, err := strconv.Atoi(arity)
		if err != nil {
			return nil, fmt.Errorf("callable arity %q in %q", arity, p.input)
		}
		if err := p.expect(')'); err != nil {
			return nil, err
		}
		params := make([]*ir.StaticType, n)
		for i := range params {
			params[i] = ir.Unknown
		}
		return &ir.StaticType{Kind: ir.TypeCallable, Params: params}, nil
	default:
		return nil, fmt.Errorf("unknown type %q in %q", word, p.input)
	}
}

func (p *typeParser) ident() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == ':' || c == ',' || c == '}' || c == ']' || c == '(' || c == ')' || c == '[' || c == '{' {
			break
		}
		p.pos++
	}
	return strings.TrimSpace(p.input[start:p.pos])
}

func (p *typeParser) expect(c byte) error {
	if p.pos >= len(p.input) || p.input[p.pos] != c {
		return fmt.Errorf("expected %q at %d in %q", string(c), p.pos, p.input)
	}
	p.pos++
	return nil
}
