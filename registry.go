package lanalyzer

import (
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Registry maps protocol IDs to decoder factories, mirroring the
// block-type-to-constructor table the FLAC metadata reader dispatches on,
// generalized from a fixed compiled-in switch to a register-at-init map
// (spec.md §4.9 requires runtime registration, not just compiled-in types).
//
// ref: spec.md §4.9 (C9)
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	// descriptors caches each factory's Descriptor so List/Search never
	// construct a throwaway Decoder.
	descriptors map[string]*Descriptor
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories:   make(map[string]Factory),
		descriptors: make(map[string]*Descriptor),
	}
}

// Register adds factory under id. Per spec.md §5's resource policy,
// registration must complete before any Execute call against this
// Registry; Register does not itself enforce that ordering.
func (r *Registry) Register(id string, factory Factory) {
	d := factory().Describe()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[id] = factory
	r.descriptors[id] = d
}

// Get returns the factory registered under id, or nil if none is.
func (r *Registry) Get(id string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[id]
}

// ListDescriptors returns every registered decoder's descriptor, sorted by
// ID for deterministic output.
func (r *Registry) ListDescriptors() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Search returns descriptors whose name, long name, or ID contains query
// (case-insensitive), further filtered to those carrying every tag in tags
// when tags is non-empty.
func (r *Registry) Search(query string, tags ...string) []*Descriptor {
	query = strings.ToLower(query)
	var out []*Descriptor
	for _, d := range r.ListDescriptors() {
		if query != "" {
			hay := strings.ToLower(d.ID + " " + d.Name + " " + d.LongName)
			if !strings.Contains(hay, query) {
				continue
			}
		}
		if !hasAllTags(d.Tags, tags) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ValidateMapping validates mapping against the descriptor registered under
// id, also flagging any role mapped to a channel number absent from
// channels.
func (r *Registry) ValidateMapping(id string, mapping ChannelMapping, channels []uint16) (ValidateMappingResult, error) {
	d, err := r.descriptor(id)
	if err != nil {
		return ValidateMappingResult{}, err
	}
	res := ValidateChannelMapping(d, mapping)
	known := make(map[uint16]bool, len(channels))
	for _, ch := range channels {
		known[ch] = true
	}
	for role, ch := range mapping {
		if !known[ch] {
			res.Warnings = append(res.Warnings, role+" maps to channel "+strconv.Itoa(int(ch))+" which is not in the supplied channel set")
		}
	}
	return res, nil
}

// AutoAssign assigns channel numbers to every role of the decoder
// registered under id, required roles first, each taking the
// lowest-numbered channel not already in usedChannels or assigned earlier
// in this call, up to maxChannels. It fails if no free channel remains for
// a required role.
func (r *Registry) AutoAssign(id string, usedChannels []uint16, maxChannels uint16) (ChannelMapping, error) {
	d, err := r.descriptor(id)
	if err != nil {
		return nil, err
	}
	taken := make(map[uint16]bool, len(usedChannels))
	for _, ch := range usedChannels {
		taken[ch] = true
	}
	mapping := make(ChannelMapping)
	assign := func(role ChannelRole) error {
		for ch := uint16(0); ch < maxChannels; ch++ {
			if !taken[ch] {
				taken[ch] = true
				mapping[role.ID] = ch
				return nil
			}
		}
		return &BadConfigError{Decoder: id, Reason: "no free channel for role " + role.ID}
	}
	for _, role := range d.Channels {
		if role.Required {
			if err := assign(role); err != nil {
				return nil, err
			}
		}
	}
	for _, role := range d.Channels {
		if !role.Required {
			// Best-effort: an optional role that can't be assigned is
			// simply left unmapped.
			_ = assign(role)
		}
	}
	return mapping, nil
}

// ExecuteResult is Registry.ExecuteDecoder's return value.
type ExecuteResult struct {
	OK          bool
	ElapsedMs   float64
	Annotations []Annotation
	Err         error
}

// ExecuteDecoder constructs a fresh decoder instance from the factory
// registered under id, validates cfg against it, and runs it to
// completion, returning every annotation sorted (stably) by StartSample —
// a defensive re-sort on top of the ordering Decoder.Execute and the
// Streaming Executor already guarantee.
func (r *Registry) ExecuteDecoder(id string, cfg Config) ExecuteResult {
	factory := r.Get(id)
	if factory == nil {
		return ExecuteResult{Err: errors.Errorf("lanalyzer: no decoder registered for id %q", id)}
	}
	dec := factory()
	if err := dec.Validate(cfg); err != nil {
		return ExecuteResult{Err: err}
	}
	buf := NewBuffer(nil)
	started := monotonicNow()
	err := dec.Execute(cfg, buf)
	elapsed := monotonicNow() - started
	if err != nil {
		return ExecuteResult{ElapsedMs: elapsed, Err: err}
	}
	all := buf.All()
	sort.SliceStable(all, func(i, j int) bool { return all[i].StartSample < all[j].StartSample })
	return ExecuteResult{OK: true, ElapsedMs: elapsed, Annotations: all}
}

func (r *Registry) descriptor(id string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[id]
	if !ok {
		return nil, errors.Errorf("lanalyzer: no decoder registered for id %q", id)
	}
	return d, nil
}

func monotonicNow() float64 {
	return float64(time.Now().UnixNano()) / 1e6
}
