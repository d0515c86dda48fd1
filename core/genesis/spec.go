package genesis

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tipjar/crypto"
	"tipjar/native/tipjar"
)

// Spec is the genesis document: initial wallet funding and the profiles to
// register on first start.
type Spec struct {
	GenesisTime string            `yaml:"genesisTime"`
	Alloc       map[string]uint64 `yaml:"alloc"`
	Profiles    []ProfileSpec     `yaml:"profiles,omitempty"`

	genesisTimestamp time.Time
	allocations      []Allocation
	owners           [][20]byte
}

// ProfileSpec registers a creator profile at genesis. The owner pays the
// profile allocation fee out of its allocation.
type ProfileSpec struct {
	Owner string `yaml:"owner"`
	Name  string `yaml:"name"`
	Bio   string `yaml:"bio,omitempty"`
}

// Allocation is one resolved wallet funding entry.
type Allocation struct {
	Address [20]byte
	Amount  uint64
}

// Load reads and validates a YAML genesis document.
func Load(path string) (*Spec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := Decode(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// Decode parses a YAML genesis document, rejecting unknown fields.
func Decode(raw []byte) (*Spec, error) {
	var spec Spec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

// Validate checks the document and resolves addresses.
func (s *Spec) Validate() error {
	ts, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = ts

	if len(s.Alloc) == 0 {
		return fmt.Errorf("alloc must fund at least one wallet")
	}
	allocations := make([]Allocation, 0, len(s.Alloc))
	funded := make(map[[20]byte]struct{}, len(s.Alloc))
	for raw, amount := range s.Alloc {
		addr, err := crypto.ParseAddress(raw)
		if err != nil {
			return fmt.Errorf("alloc %q: %w", raw, err)
		}
		if amount == 0 {
			return fmt.Errorf("alloc %q: amount must be positive", raw)
		}
		if _, dup := funded[addr]; dup {
			return fmt.Errorf("alloc %q: address listed twice", raw)
		}
		funded[addr] = struct{}{}
		allocations = append(allocations, Allocation{Address: addr, Amount: amount})
	}
	sort.Slice(allocations, func(i, j int) bool {
		return bytes.Compare(allocations[i].Address[:], allocations[j].Address[:]) < 0
	})
	s.allocations = allocations

	owners := make([][20]byte, 0, len(s.Profiles))
	seen := make(map[[20]byte]struct{}, len(s.Profiles))
	for i, profile := range s.Profiles {
		owner, err := crypto.ParseAddress(profile.Owner)
		if err != nil {
			return fmt.Errorf("profiles[%d].owner: %w", i, err)
		}
		if _, ok := funded[owner]; !ok {
			return fmt.Errorf("profiles[%d]: owner %s has no allocation", i, profile.Owner)
		}
		if _, dup := seen[owner]; dup {
			return fmt.Errorf("profiles[%d]: owner %s already has a profile", i, profile.Owner)
		}
		if strings.TrimSpace(profile.Name) == "" {
			return fmt.Errorf("profiles[%d]: name must be provided", i)
		}
		if len(profile.Name) > tipjar.MaxNameLen {
			return fmt.Errorf("profiles[%d]: name exceeds %d bytes", i, tipjar.MaxNameLen)
		}
		if len(profile.Bio) > tipjar.MaxBioLen {
			return fmt.Errorf("profiles[%d]: bio exceeds %d bytes", i, tipjar.MaxBioLen)
		}
		seen[owner] = struct{}{}
		owners = append(owners, owner)
	}
	s.owners = owners
	return nil
}

// GenesisTimestamp returns the parsed genesis time.
func (s *Spec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

// Allocations returns the funding entries sorted by address.
func (s *Spec) Allocations() []Allocation {
	out := make([]Allocation, len(s.allocations))
	copy(out, s.allocations)
	return out
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
