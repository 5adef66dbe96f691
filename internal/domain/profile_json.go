package domain

import (
	"encoding/json"
	"fmt"
)

// ParseMountMode parses the string form used in the capability
// declaration surface (spec §6: `fs=[{path,mode},…]`).
func ParseMountMode(s string) (MountMode, error) {
	switch s {
	case "read", "":
		return MountRead, nil
	case "read_write":
		return MountReadWrite, nil
	default:
		return 0, fmt.Errorf("unknown mount mode %q", s)
	}
}

// mountJSON, dependencyJSON, and profileJSON are the wire shapes for the
// capability declaration surface (spec §6): the JSON a caller writes
// when declaring `fs=[{path,mode},…]`, `net`, `cpu_ms`, `mem_mb`, and
// `dependencies`. CapabilityProfile's own fields use the enum types
// that canonicalization needs; these DTOs are the text boundary.
type mountJSON struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
}

type dependencyJSON struct {
	Name       string `json:"name"`
	Constraint string `json:"constraint,omitempty"`
}

type profileJSON struct {
	FS           []mountJSON      `json:"fs,omitempty"`
	Net          string           `json:"net,omitempty"`
	CPUMillis    uint32           `json:"cpu_ms"`
	MemMB        uint32           `json:"mem_mb"`
	Dependencies []dependencyJSON `json:"dependencies,omitempty"`
}

// MarshalJSON renders the capability declaration surface's wire form.
func (p *CapabilityProfile) MarshalJSON() ([]byte, error) {
	out := profileJSON{
		Net:       p.Net.String(),
		CPUMillis: p.CPUMillis,
		MemMB:     p.MemMB,
	}
	for _, m := range p.FS {
		out.FS = append(out.FS, mountJSON{Path: m.Path, Mode: m.Mode.String()})
	}
	for _, d := range p.Dependencies {
		out.Dependencies = append(out.Dependencies, dependencyJSON{Name: d.Name, Constraint: d.Constraint})
	}
	return json.Marshal(out)
}

// UnmarshalJSON parses the capability declaration surface's wire form.
func (p *CapabilityProfile) UnmarshalJSON(data []byte) error {
	var in profileJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	net, err := ParseNetPolicy(in.Net)
	if err != nil {
		return err
	}
	fs := make([]Mount, 0, len(in.FS))
	for _, m := range in.FS {
		mode, err := ParseMountMode(m.Mode)
		if err != nil {
			return fmt.Errorf("mount %q: %w", m.Path, err)
		}
		fs = append(fs, Mount{Path: m.Path, Mode: mode})
	}
	deps := make([]Dependency, 0, len(in.Dependencies))
	for _, d := range in.Dependencies {
		deps = append(deps, Dependency{Name: d.Name, Constraint: d.Constraint})
	}
	p.FS = fs
	p.Net = net
	p.CPUMillis = in.CPUMillis
	p.MemMB = in.MemMB
	p.Dependencies = deps
	return nil
}
