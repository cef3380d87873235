// Package codec marshals typed values into the opaque payloads a session
// exchanges, and offers typed wrappers around Session.Send and Session.Receive.
package codec

import (
	"fmt"
	"sort"
)

// Codec defines a simple interface for marshaling typed messages.
// Implementations should be deterministic so equal values produce equal payloads.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types and short names to codecs.
type Registry struct {
	byType map[string]Codec
	byName map[string]Codec
}

// NewRegistry constructs a registry preloaded with JSON, CBOR and Protobuf.
func NewRegistry() (*Registry, error) {
	r := &Registry{byType: make(map[string]Codec), byName: make(map[string]Codec)}
	cb, err := CBOR()
	if err != nil {
		return nil, err
	}
	r.Register("json", JSON())
	r.Register("cbor", cb)
	r.Register("proto", Proto())
	return r, nil
}

// Register adds a codec under a short name and its content type.
func (r *Registry) Register(name string, c Codec) {
	r.byType[c.ContentType()] = c
	r.byName[name] = c
}

// Get returns a codec by content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// Lookup resolves a short name (json, cbor, proto) or a content type.
func (r *Registry) Lookup(name string) (Codec, error) {
	if c, ok := r.byName[name]; ok {
		return c, nil
	}
	if c, ok := r.byType[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("codec: unknown format %q", name)
}

// Names lists registered short names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for n := range r.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
