// Package scenario loads and replays allocation scenarios: a budget, a simulated heap size and a
// sequence of allocator operations, described in YAML.
package scenario

import (
	"bytes"
	"os"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/embedmem/tagmem/tagmem"
	"github.com/inhies/go-bytesize"
	"gopkg.in/yaml.v3"
)

// Size is a byte count that can be written in YAML as a plain integer or with a unit, like "64KB"
type Size int

func (s *Size) UnmarshalYAML(node *yaml.Node) error {
	var count int
	if err := node.Decode(&count); err == nil {
		*s = Size(count)
		return nil
	}

	parsed, err := bytesize.Parse(node.Value)
	if err != nil {
		return errors.Wrapf(err, "line %d: invalid size %q", node.Line, node.Value)
	}

	*s = Size(parsed)
	return nil
}

func (s Size) String() string {
	return bytesize.New(float64(s)).String()
}

// Op is the allocator operation a step performs
type Op string

const (
	OpAlloc      Op = "alloc"
	OpTryAlloc   Op = "try_alloc"
	OpRealloc    Op = "realloc"
	OpTryRealloc Op = "try_realloc"
	OpRelease    Op = "release"
	OpStrdup     Op = "strdup"
)

// Scenario is a replayable sequence of allocator operations
type Scenario struct {
	// Name identifies the scenario in output
	Name string `yaml:"name"`

	// Budget is passed to the allocator as its memory ceiling. Zero means no ceiling.
	Budget Size `yaml:"budget"`

	// HeapLimit is the capacity of the simulated heap
	HeapLimit Size `yaml:"heap_limit"`

	// EnforceBudget makes requests past Budget fail even if the heap could satisfy them
	EnforceBudget bool `yaml:"enforce_budget,omitempty"`

	Steps []Step `yaml:"steps"`
}

// Step is a single allocator operation. ID names the region the step creates or acts on.
type Step struct {
	Op       Op     `yaml:"op"`
	ID       string `yaml:"id"`
	Size     Size   `yaml:"size,omitempty"`
	Text     string `yaml:"text,omitempty"`
	Category string `yaml:"category,omitempty"`
}

// ResolveCategory returns the step's category. Categories are given by registered name or as a
// number; a step without one is tagged CategoryGeneral.
func (s Step) ResolveCategory() (tagmem.Category, error) {
	if s.Category == "" {
		return tagmem.CategoryGeneral, nil
	}

	category, ok := tagmem.LookupCategory(s.Category)
	if ok {
		return category, nil
	}

	value, err := strconv.ParseUint(s.Category, 0, 32)
	if err != nil {
		return 0, errors.Newf("unknown category %q", s.Category)
	}
	return tagmem.Category(value), nil
}

// Load reads and validates a scenario file
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read scenario file")
	}

	return Parse(data)
}

// Parse decodes and validates a scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, errors.Wrap(err, "failed to parse scenario")
	}

	if err := scenario.Validate(); err != nil {
		return nil, err
	}

	return &scenario, nil
}

func (s *Scenario) Validate() error {
	if s.HeapLimit <= 0 {
		return errors.New("heap_limit must be positive")
	}
	if s.Budget < 0 {
		return errors.New("budget must not be negative")
	}
	if s.EnforceBudget && s.Budget == 0 {
		return errors.New("enforce_budget requires a budget")
	}
	if len(s.Steps) == 0 {
		return errors.New("scenario has no steps")
	}

	for i, step := range s.Steps {
		if step.ID == "" {
			return errors.Newf("step %d: id is required", i+1)
		}

		switch step.Op {
		case OpAlloc, OpTryAlloc, OpRealloc, OpTryRealloc:
			if step.Size < 0 {
				return errors.Newf("step %d: size must not be negative", i+1)
			}
		case OpStrdup, OpRelease:
		default:
			return errors.Newf("step %d: unknown op %q", i+1, step.Op)
		}

		if _, err := step.ResolveCategory(); err != nil {
			return errors.Wrapf(err, "step %d", i+1)
		}
	}

	return nil
}
