package rs232

import (
	"fmt"
	"sort"
	"strings"
)

// CommandSpec is an immutable registry entry describing one logical
// command of a device dictionary: its wire code, argument encoding rule,
// and the codes that confirm it.
//
// Specs are plain data. Device dictionaries that vary by model are
// expressed as different spec tables feeding the same registry, not as
// per-model driver subtypes.
type CommandSpec struct {
	// Name is the logical command name, e.g. "power.on" or "volume.set".
	Name string

	// Code is the wire command code (1-3 bytes, dictionary defined).
	Code string

	// ArgLen is the fixed number of argument bytes in a request.
	ArgLen int

	// ReplyArgLen is the fixed number of argument bytes in a device
	// confirmation. It commonly equals ArgLen, but differs for commands
	// whose confirmation reports a value (e.g. a volume step request has
	// no arguments while its confirmation carries the new level).
	ReplyArgLen int

	// ReplyCodes lists the codes that confirm this command. When empty,
	// the command is confirmed by an echo of its own code.
	ReplyCodes []string

	// Validate, when non-nil, checks the range of non-empty argument
	// bytes. It applies to both encoded requests and decoded replies.
	Validate func(args []byte) error
}

// ConfirmedBy reports whether a reply with the given code confirms this
// command.
func (s *CommandSpec) ConfirmedBy(code string) bool {
	if len(s.ReplyCodes) == 0 {
		return code == s.Code
	}

	for _, c := range s.ReplyCodes {
		if c == code {
			return true
		}
	}

	return false
}

func (s *CommandSpec) validate() error {
	if s.Name == "" {
		return fmt.Errorf("%w: command spec has empty name", ErrEncoding)
	}
	if s.Code == "" {
		return fmt.Errorf("%w: command %q has empty code", ErrEncoding, s.Name)
	}
	if s.ArgLen < 0 || s.ReplyArgLen < 0 {
		return fmt.Errorf("%w: command %q has negative argument length", ErrEncoding, s.Name)
	}

	return nil
}

// clone returns a registry-owned copy so later caller mutations cannot
// leak into the sealed registry.
func (s *CommandSpec) clone() *CommandSpec {
	c := *s
	c.ReplyCodes = append([]string(nil), s.ReplyCodes...)

	return &c
}

// Registry maps logical commands to their wire specs.
//
// A Registry is populated once at construction and read-only afterward,
// so it is safe for concurrent use without locking.
type Registry struct {
	byName map[string]*CommandSpec
	byCode map[string]*CommandSpec

	// codes holds all registered codes sorted longest-first, so Match
	// resolves overlapping codes to the longest registered prefix.
	codes []string
}

// NewRegistry builds a sealed Registry from the given specs.
//
// It fails when a spec is invalid, or when two specs share a name or a
// code.
func NewRegistry(specs ...*CommandSpec) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]*CommandSpec, len(specs)),
		byCode: make(map[string]*CommandSpec, len(specs)),
		codes:  make([]string, 0, len(specs)),
	}

	for _, spec := range specs {
		if spec == nil {
			return nil, fmt.Errorf("%w: nil command spec", ErrEncoding)
		}
		if err := spec.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[spec.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate command name %q", ErrEncoding, spec.Name)
		}
		if _, dup := r.byCode[spec.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate command code %q", ErrEncoding, spec.Code)
		}

		owned := spec.clone()
		r.byName[owned.Name] = owned
		r.byCode[owned.Code] = owned
		r.codes = append(r.codes, owned.Code)
	}

	sort.Slice(r.codes, func(i, j int) bool {
		if len(r.codes[i]) != len(r.codes[j]) {
			return len(r.codes[i]) > len(r.codes[j])
		}

		return r.codes[i] < r.codes[j]
	})

	return r, nil
}

// Lookup returns the spec for the given logical command name.
//
// A miss is a programming error on the caller's side and is reported as
// an error wrapping ErrUnknownCommand, never silently ignored.
func (r *Registry) Lookup(name string) (*CommandSpec, error) {
	spec, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	return spec, nil
}

// LookupCode returns the spec registered for the given wire code.
func (r *Registry) LookupCode(code string) (*CommandSpec, bool) {
	spec, ok := r.byCode[code]

	return spec, ok
}

// Specs returns all registered specs. The returned slice is freshly
// allocated; the specs themselves are shared and must not be mutated.
func (r *Registry) Specs() []*CommandSpec {
	out := make([]*CommandSpec, 0, len(r.byName))
	for _, code := range r.codes {
		out = append(out, r.byCode[code])
	}

	return out
}

// Match resolves a decoded frame payload to a registered command.
//
// The command code is matched by longest registered prefix; the remaining
// bytes must satisfy the spec's request or reply arity and its validator.
// Payloads matching no registered command fail with an error wrapping
// ErrUnknownFrame.
func (r *Registry) Match(payload []byte) (*Frame, error) {
	s := string(payload)

	for _, code := range r.codes {
		if !strings.HasPrefix(s, code) {
			continue
		}

		spec := r.byCode[code]
		args := payload[len(code):]

		if len(args) != spec.ArgLen && len(args) != spec.ReplyArgLen {
			continue
		}

		if spec.Validate != nil && len(args) > 0 {
			if err := spec.Validate(args); err != nil {
				return nil, fmt.Errorf("%w: code %q: %w", ErrUnknownFrame, code, err)
			}
		}

		out := make([]byte, len(args))
		copy(out, args)

		return &Frame{Code: code, Args: out}, nil
	}

	return nil, fmt.Errorf("%w: payload %q", ErrUnknownFrame, s)
}
