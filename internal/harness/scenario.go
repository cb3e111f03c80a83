package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tether/internal/ir"
	"github.com/roach88/tether/internal/shadow"
)

// Scenario is a test scenario loaded from YAML.
type Scenario struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Manifests   string      `yaml:"manifests"`
	Config      string      `yaml:"config"`
	ManualBeat  bool        `yaml:"manual_beat"`
	Steps       []Step      `yaml:"steps"`
	Assertions  []Assertion `yaml:"assertions"`

	// Dir resolves Manifests. Set by LoadScenario to the file's directory.
	Dir string `yaml:"-"`
}

// Step is one scenario action. Exactly one of Call, Script, Mount, Event,
// Flush or StopSurface is set.
type Step struct {
	Call        string     `yaml:"call"`
	Args        []any      `yaml:"args"`
	Script      string     `yaml:"script"`
	Mount       *MountStep `yaml:"mount"`
	Event       *EventStep `yaml:"event"`
	Flush       bool       `yaml:"flush"`
	StopSurface int64      `yaml:"stop_surface"`
	Expect      *Expect    `yaml:"expect"`
}

// MountStep commits a tree to a surface. The surface is started on first
// use; stop_surface unmounts it.
type MountStep struct {
	Surface int64     `yaml:"surface"`
	Root    *NodeSpec `yaml:"root"`
}

// NodeSpec is a shadow node in YAML form.
type NodeSpec struct {
	Tag       int64          `yaml:"tag"`
	Component string         `yaml:"component"`
	Props     map[string]any `yaml:"props"`
	Children  []*NodeSpec    `yaml:"children"`
}

// EventStep dispatches an event from a mounted view.
type EventStep struct {
	Surface  int64  `yaml:"surface"`
	Tag      int64  `yaml:"tag"`
	Type     string `yaml:"type"`
	Payload  any    `yaml:"payload"`
	Coalesce string `yaml:"coalesce"`
}

// Expect is checked against the step's trace event.
type Expect struct {
	Result    any    `yaml:"result"`
	Error     string `yaml:"error"`
	Pending   bool   `yaml:"pending"`
	Failure   bool   `yaml:"failure"`
	Delivered *bool  `yaml:"delivered"`
}

// Assertion types.
const (
	AssertPath       = "path"
	AssertGlobal     = "global"
	AssertCallCount  = "call_count"
	AssertCallOrder  = "call_order"
	AssertExceptions = "exceptions"
)

// Assertion is a check evaluated after all steps ran.
type Assertion struct {
	Type    string   `yaml:"type"`
	Path    string   `yaml:"path"`
	Global  string   `yaml:"global"`
	Equals  any      `yaml:"equals"`
	Exists  *bool    `yaml:"exists"`
	Method  string   `yaml:"method"`
	Methods []string `yaml:"methods"`
	Count   *int     `yaml:"count"`
}

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario %s: %w", path, err)
	}
	sc, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.Dir = filepath.Dir(path)
	return sc, nil
}

// ParseScenario decodes and validates a scenario from YAML bytes.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

// ManifestDir returns Manifests resolved against Dir.
func (s *Scenario) ManifestDir() string {
	if filepath.IsAbs(s.Manifests) || s.Dir == "" {
		return s.Manifests
	}
	return filepath.Join(s.Dir, s.Manifests)
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if s.Manifests == "" {
		return fmt.Errorf("scenario %s: manifests is required", s.Name)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario %s: at least one step is required", s.Name)
	}
	for i, st := range s.Steps {
		if err := validateStep(st); err != nil {
			return fmt.Errorf("scenario %s: step %d: %w", s.Name, i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("scenario %s: assertion %d: %w", s.Name, i, err)
		}
	}
	return nil
}

func validateStep(st Step) error {
	actions := 0
	for _, set := range []bool{st.Call != "", st.Script != "", st.Mount != nil, st.Event != nil, st.Flush, st.StopSurface != 0} {
		if set {
			actions++
		}
	}
	if actions != 1 {
		return fmt.Errorf("exactly one action is required, got %d", actions)
	}
	switch {
	case st.Call != "":
		if _, _, err := splitMethod(st.Call); err != nil {
			return err
		}
		if _, err := ir.FromGo(st.Args); err != nil {
			return fmt.Errorf("args: %w", err)
		}
	case st.Mount != nil:
		if st.Mount.Surface <= 0 {
			return fmt.Errorf("mount: surface must be positive")
		}
		if st.Mount.Root == nil {
			return fmt.Errorf("mount: root is required")
		}
		if _, err := st.Mount.Root.node(shadow.SurfaceID(st.Mount.Surface)); err != nil {
			return fmt.Errorf("mount: %w", err)
		}
	case st.Event != nil:
		if st.Event.Type == "" {
			return fmt.Errorf("event: type is required")
		}
		if _, err := ir.FromGo(st.Event.Payload); err != nil {
			return fmt.Errorf("event payload: %w", err)
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertPath:
		if a.Path == "" {
			return fmt.Errorf("%s: path is required", a.Type)
		}
	case AssertGlobal:
		if a.Global == "" {
			return fmt.Errorf("%s: global is required", a.Type)
		}
	case AssertCallCount:
		if a.Method == "" || a.Count == nil {
			return fmt.Errorf("%s: method and count are required", a.Type)
		}
	case AssertCallOrder:
		if len(a.Methods) < 2 {
			return fmt.Errorf("%s: at least two methods are required", a.Type)
		}
	case AssertExceptions:
		if a.Count == nil {
			return fmt.Errorf("%s: count is required", a.Type)
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

// splitMethod splits "Module.method".
func splitMethod(s string) (string, string, error) {
	mod, meth, ok := strings.Cut(s, ".")
	if !ok || mod == "" || meth == "" {
		return "", "", fmt.Errorf("call %q: expected Module.method", s)
	}
	return mod, meth, nil
}

// node converts the spec into a shadow node of surface.
func (n *NodeSpec) node(surface shadow.SurfaceID) (*shadow.Node, error) {
	if n.Tag <= 0 {
		return nil, fmt.Errorf("node %q: tag must be positive", n.Component)
	}
	if n.Component == "" {
		return nil, fmt.Errorf("node %d: component is required", n.Tag)
	}
	props := ir.Object{}
	if len(n.Props) > 0 {
		v, err := ir.FromGo(n.Props)
		if err != nil {
			return nil, fmt.Errorf("node %d props: %w", n.Tag, err)
		}
		props = v.(ir.Object)
	}
	children := make([]*shadow.Node, 0, len(n.Children))
	for _, c := range n.Children {
		child, err := c.node(surface)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return shadow.NewNode(surface, shadow.Tag(n.Tag), n.Component, props, children...), nil
}
