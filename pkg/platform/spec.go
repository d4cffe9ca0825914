// Package platform is the administrative shell around the transfer core:
// it loads the channel table, allocates device numbers, requests engine
// channels, and exposes each configured channel as a named node with an
// exclusive open/read/write/close surface.
package platform

import (
	"fmt"

	"github.com/warthog618/config"

	"github.com/jeremytrimble/ezdma/pkg/umem"
)

// NameMaxChars bounds channel node names.
const NameMaxChars = 16

// ChannelSpec is one entry of the channel table: a named, single-direction
// endpoint bound to an underlying engine FIFO.
type ChannelSpec struct {
	Name string
	Dir  umem.Direction
	Fifo string
}

// Validate checks a spec entry.
func (s ChannelSpec) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("platform: channel with empty name")
	}
	if len(s.Name) > NameMaxChars {
		return fmt.Errorf("platform: channel name %q longer than %d chars", s.Name, NameMaxChars)
	}
	if !s.Dir.Valid() {
		return fmt.Errorf("platform: %s specifies unsupported direction %d", s.Name, uint32(s.Dir))
	}
	return nil
}

// ParseSpecs reads the channel table from cfg. The layout follows the
// device-tree properties the driver consumed: a "channels" list of names,
// and per-channel "<name>.dir" (1 = device-to-host, 2 = host-to-device)
// and optional "<name>.fifo" keys (the FIFO defaults to the channel name).
func ParseSpecs(cfg *config.Config) ([]ChannelSpec, error) {
	v, err := cfg.Get("channels")
	if err != nil {
		return nil, fmt.Errorf("platform: no channels configured: %w", err)
	}
	names := v.StringSlice()
	if len(names) == 0 {
		return nil, fmt.Errorf("platform: no channels configured")
	}

	specs := make([]ChannelSpec, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			return nil, fmt.Errorf("platform: duplicate channel %q", name)
		}
		seen[name] = true

		dv, err := cfg.Get(name + ".dir")
		if err != nil {
			return nil, fmt.Errorf("platform: %s: missing dir: %w", name, err)
		}
		spec := ChannelSpec{
			Name: name,
			Dir:  umem.Direction(dv.Uint()),
			Fifo: name,
		}
		if fv, err := cfg.Get(name + ".fifo"); err == nil {
			if fifo := fv.String(); fifo != "" {
				spec.Fifo = fifo
			}
		}
		if err := spec.Validate(); err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
