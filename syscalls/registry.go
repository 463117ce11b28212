// Package syscalls implements the per-compile table of syscall name ->
// Murmur3 hash and the ordered call-site list each entry needs for V1
// relocation. Modeled on a dynamic linker's PLT/GOT bookkeeping: slots
// assigned in first-seen order to keep symbol indices stable, adapted
// here to a single relocation type instead of a PLT.
package syscalls

import "github.com/xyproto/solisp/internal/xmurmur"

// Entry is one syscall's registry record.
type Entry struct {
	Name      string
	Hash      uint32
	CallSites []int // instruction indices, in encounter order
}

// Registry is the per-compile syscall table. It is not a process-wide
// singleton: construct a fresh Registry per compile.
type Registry struct {
	order   []string // insertion order, preserved for stable .dynsym indices
	entries map[string]*Entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// Register computes (or returns the cached) Murmur3 hash for name,
// registering it in insertion order on first reference. Registration is
// lazy: a name earns an entry only the first time it is actually used.
func (r *Registry) Register(name string) *Entry {
	if e, ok := r.entries[name]; ok {
		return e
	}
	e := &Entry{Name: name, Hash: xmurmur.Sum32([]byte(name))}
	r.entries[name] = e
	r.order = append(r.order, name)
	return e
}

// RecordCallSite appends instrIndex to name's call-site list, registering
// name first if this is its first reference.
func (r *Registry) RecordCallSite(name string, instrIndex int) {
	e := r.Register(name)
	e.CallSites = append(e.CallSites, instrIndex)
}

// Hash returns name's Murmur3 hash, registering it if necessary.
func (r *Registry) Hash(name string) uint32 {
	return r.Register(name).Hash
}

// Entries returns every registered entry, in insertion order -- the order
// the ELF writer's .dynsym/.dynstr must preserve for stable symbol indices.
func (r *Registry) Entries() []*Entry {
	out := make([]*Entry, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name])
	}
	return out
}

// Len reports how many distinct syscalls have been registered.
func (r *Registry) Len() int {
	return len(r.order)
}

// Lookup returns the entry for name, if registered.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	e, ok := r.entries[name]
	return e, ok
}
