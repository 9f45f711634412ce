// Package backends wires the built-in embedding backends into a registry.
package backends

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spigell/embedmatch/internal/embedding"
	"github.com/spigell/embedmatch/internal/embedding/gemini"
	"github.com/spigell/embedmatch/internal/embedding/local"
	"github.com/spigell/embedmatch/internal/embedding/voyage"
)

// Builtin lists the backends shipped with the binary.
var Builtin = map[string]embedding.Constructor{
	local.Name:  local.New,
	gemini.Name: gemini.New,
	voyage.Name: voyage.New,
}

// Names returns the built-in backend names in ascending order.
func Names() []string {
	names := make([]string, 0, len(Builtin))
	for name := range Builtin {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Register adds the enabled built-in backends to reg. An empty enabled list
// registers all of them.
func Register(reg *embedding.Registry, enabled ...string) error {
	if len(enabled) == 0 {
		enabled = Names()
	}

	for _, name := range enabled {
		name = strings.ToLower(strings.TrimSpace(name))
		ctor, ok := Builtin[name]
		if !ok {
			return fmt.Errorf("%w: %q (built-in: %s)", embedding.ErrUnknownBackend, name, strings.Join(Names(), ", "))
		}
		if err := reg.Register(name, ctor); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a sealed registry holding the enabled built-in backends.
func NewRegistry(enabled ...string) (*embedding.Registry, error) {
	reg := embedding.NewRegistry()
	if err := Register(reg, enabled...); err != nil {
		return nil, err
	}
	reg.Seal()
	return reg, nil
}
