package node

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"testing"
)

func TestRegistry_CapabilitiesDerivedFromRegisteredTools(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, args json.RawMessage) (json.RawMessage, *ResponseError) {
		return nil, nil
	}
	r.Register("macos.notes.search", noop)
	r.Register("macos.notes.create", noop)
	r.Register("macos.clipboard.read", noop)

	caps := r.Capabilities()
	sort.Strings(caps)
	want := []string{"macos.clipboard", "macos.notes"}
	if !reflect.DeepEqual(caps, want) {
		t.Errorf("Capabilities() = %v, want %v", caps, want)
	}
}

func TestRegistry_NoCapabilityWithoutTool(t *testing.T) {
	r := NewRegistry()
	if caps := r.Capabilities(); len(caps) != 0 {
		t.Errorf("empty registry should advertise no capabilities, got %v", caps)
	}
}

func TestRegistry_LookupMissingTool(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Lookup("macos.notes.search"); ok {
		t.Error("Lookup should report false for an unregistered tool")
	}
}
