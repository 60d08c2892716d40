// Package domainfile loads declarative planning domains from documents. A
// domain document names the domain and declares its tasks: guard
// expression, effect statements, and exactly one decomposition strategy
// (primitive binding, noop, select, or sequence). Documents are validated
// and compiled into a Domain before any search runs.
package domainfile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ZanzyTHEbar/htnscale"
	"github.com/ZanzyTHEbar/htnscale/internal/expr"
)

// DomainFile is the top-level document structure.
type DomainFile struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Tasks       []DomainTask `yaml:"tasks"`
}

// DomainTask is one task declaration. Exactly one of Primitive, NoOp,
// Select, or Sequence must be set.
type DomainTask struct {
	Name      string   `yaml:"name"`
	Guard     string   `yaml:"guard"`
	Effects   []string `yaml:"effects"`
	Primitive string   `yaml:"primitive"`
	NoOp      bool     `yaml:"noop"`
	Select    []string `yaml:"select"`
	Sequence  []string `yaml:"sequence"`

	line int // document line of the declaration, carried into trace locations
}

// UnmarshalYAML records the declaration's document line alongside the fields.
func (t *DomainTask) UnmarshalYAML(node *yaml.Node) error {
	type plain DomainTask
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = DomainTask(p)
	t.line = node.Line
	return nil
}

// Loader defines an interface for loading a DomainFile from a source.
type Loader interface {
	Load(source string) (*DomainFile, error)
	Format() string // e.g., "yaml"
}

// loaderRegistry holds registered Loaders by format name.
var loaderRegistry = make(map[string]Loader)

// RegisterLoader registers a new Loader for a given format.
func RegisterLoader(loader Loader) {
	loaderRegistry[loader.Format()] = loader
}

// GetLoader retrieves a loader by format name (e.g., "yaml").
func GetLoader(format string) (Loader, bool) {
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements Loader for YAML documents.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*DomainFile, error) {
	return LoadDomainFile(path)
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterLoader(YAMLLoader{})
}

// LoadDomainFile parses a YAML domain document from disk.
func LoadDomainFile(path string) (*DomainFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, htnscale.NewDomainLoadError(fmt.Sprintf("failed to open domain file %s", path), err)
	}
	return ParseDomainFile(data)
}

// ParseDomainFile parses a YAML domain document from memory.
func ParseDomainFile(data []byte) (*DomainFile, error) {
	var df DomainFile
	if err := yaml.Unmarshal(data, &df); err != nil {
		return nil, htnscale.NewDomainLoadError("failed to parse domain YAML", err)
	}
	return &df, nil
}

// strategyCount returns how many decomposition strategies the task declares.
func (t *DomainTask) strategyCount() int {
	n := 0
	if t.Primitive != "" {
		n++
	}
	if t.NoOp {
		n++
	}
	if len(t.Select) > 0 {
		n++
	}
	if len(t.Sequence) > 0 {
		n++
	}
	return n
}

// subTasks returns the declared sub-task references, if any.
func (t *DomainTask) subTasks() []string {
	if len(t.Select) > 0 {
		return t.Select
	}
	return t.Sequence
}

// Validate checks the document for structural errors: duplicate names,
// references to undeclared tasks, reference cycles, strategy exclusivity,
// effects declared on dispatch tasks, and malformed guard expressions.
func (df *DomainFile) Validate() error {
	if df.Name == "" {
		return htnscale.NewDomainLoadError("domain document must declare a name", nil)
	}

	byName := make(map[string]*DomainTask, len(df.Tasks))
	for i := range df.Tasks {
		t := &df.Tasks[i]
		if t.Name == "" {
			return htnscale.NewValidationError("", "task declaration without a name", nil)
		}
		if _, exists := byName[t.Name]; exists {
			return htnscale.NewValidationError(t.Name, "duplicate task name", nil)
		}
		byName[t.Name] = t

		if n := t.strategyCount(); n != 1 {
			return htnscale.NewValidationError(t.Name,
				fmt.Sprintf("exactly one of primitive, noop, select, or sequence must be declared (found %d)", n), nil)
		}
		if len(t.Effects) > 0 && t.Primitive == "" {
			return htnscale.NewValidationError(t.Name, "effects are only allowed on primitive-bound tasks", nil)
		}
		if t.Guard != "" {
			if err := expr.ValidateGuard(t.Guard); err != nil {
				return htnscale.NewValidationError(t.Name, fmt.Sprintf("invalid guard %q", t.Guard), err)
			}
		}
	}

	// Check that all references exist.
	for i := range df.Tasks {
		t := &df.Tasks[i]
		for _, ref := range t.subTasks() {
			if _, exists := byName[ref]; !exists {
				return htnscale.NewValidationError(t.Name, fmt.Sprintf("references undeclared task '%s'", ref), nil)
			}
		}
	}

	// Check for cycles using DFS.
	visited := make(map[string]bool, len(df.Tasks))
	stack := make(map[string]bool, len(df.Tasks))
	var hasCycle func(name string) bool
	hasCycle = func(name string) bool {
		if stack[name] {
			return true
		}
		if visited[name] {
			return false
		}
		visited[name] = true
		stack[name] = true
		for _, ref := range byName[name].subTasks() {
			if hasCycle(ref) {
				return true
			}
		}
		stack[name] = false
		return false
	}
	for i := range df.Tasks {
		if hasCycle(df.Tasks[i].Name) {
			return htnscale.NewValidationError(df.Tasks[i].Name, "task reference cycle detected", nil)
		}
	}

	return nil
}

// Compile validates the document and builds the Domain, compiling guard and
// effect expressions and carrying document positions into task locations.
// source names the document in trace output (usually its path).
func (df *DomainFile) Compile(source string) (*htnscale.Domain, error) {
	if err := df.Validate(); err != nil {
		return nil, err
	}

	d := htnscale.NewDomain(df.Name)
	for i := range df.Tasks {
		t := &df.Tasks[i]
		opts := []htnscale.TaskOption{
			htnscale.WithLocation(htnscale.Location{File: source, Line: t.line}),
		}

		if t.Guard != "" {
			guard, err := expr.CompileGuard(t.Guard)
			if err != nil {
				return nil, htnscale.NewValidationError(t.Name, "guard compilation failed", err)
			}
			opts = append(opts, htnscale.WithGuard(guard))
		}
		if len(t.Effects) > 0 {
			effects, err := expr.CompileEffects(t.Effects)
			if err != nil {
				return nil, htnscale.NewValidationError(t.Name, "effect compilation failed", err)
			}
			for _, eff := range effects {
				opts = append(opts, htnscale.WithEffect(eff))
			}
		}

		switch {
		case t.Primitive != "":
			opts = append(opts, htnscale.AsPrimitive(strings.TrimSpace(t.Primitive)))
		case t.NoOp:
			opts = append(opts, htnscale.AsNoOp())
		case len(t.Select) > 0:
			opts = append(opts, htnscale.Select(t.Select...))
		default:
			opts = append(opts, htnscale.Sequence(t.Sequence...))
		}

		if err := d.AddTask(t.Name, opts...); err != nil {
			return nil, err
		}
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadDomain is the one-call path from a document on disk to a searchable
// Domain.
func LoadDomain(path string) (*htnscale.Domain, error) {
	df, err := LoadDomainFile(path)
	if err != nil {
		return nil, err
	}
	return df.Compile(path)
}
