package fonts

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tileproxy/tileproxy/internal/apierrors"
	"github.com/tileproxy/tileproxy/internal/datasource"
	"github.com/tileproxy/tileproxy/internal/resolver"
)

func writeRange(t *testing.T, root, rangeName string, stacks []FontStack) {
	t.Helper()
	if err := os.MkdirAll(root, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	path := filepath.Join(root, rangeName+".pbf")
	if err := os.WriteFile(path, Encode(stacks), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func TestResolveRangeSingleFamily(t *testing.T) {
	base := t.TempDir()
	familyRoot := filepath.Join(base, "FamilyA")
	writeRange(t, familyRoot, "0-255", []FontStack{stackWithIDs("FamilyA", 65, 66, 67)})

	res := resolver.New(datasource.NewClient(time.Second, nil), nil)
	lookup := func(id string) (Source, bool) {
		if id == "FamilyA" {
			return Source{Root: familyRoot}, true
		}
		return Source{}, false
	}
	reg := NewRegistry(res, lookup, func(string) (Source, bool) { return Source{}, false })

	data, err := reg.ResolveRange(context.Background(), []string{"FamilyA"}, "0-255")
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != 1 || len(decoded[0].Glyphs) != 3 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestResolveRangeMerge(t *testing.T) {
	base := t.TempDir()
	rootA := filepath.Join(base, "FamilyA")
	rootB := filepath.Join(base, "FamilyB")
	writeRange(t, rootA, "0-255", []FontStack{stackWithIDs("FamilyA", ids(65, 90)...)})
	writeRange(t, rootB, "0-255", []FontStack{stackWithIDs("FamilyB", append(ids(97, 122), 65)...)})

	res := resolver.New(datasource.NewClient(time.Second, nil), nil)
	sources := map[string]Source{
		"FamilyA": {Root: rootA},
		"FamilyB": {Root: rootB},
	}
	lookup := func(id string) (Source, bool) {
		src, ok := sources[id]
		return src, ok
	}
	reg := NewRegistry(res, lookup, func(string) (Source, bool) { return Source{}, false })

	data, err := reg.ResolveRange(context.Background(), []string{"FamilyA", "FamilyB"}, "0-255")
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected one merged stack, got %d", len(decoded))
	}
	stack := decoded[0]
	if stack.Name != "FamilyA,FamilyB" {
		t.Errorf("Name = %q", stack.Name)
	}

	byID := make(map[uint32]Glyph)
	for _, g := range stack.Glyphs {
		byID[g.ID] = g
	}
	for id := uint32(65); id <= 90; id++ {
		if _, ok := byID[id]; !ok {
			t.Errorf("missing glyph %d from FamilyA range", id)
		}
	}
	for id := uint32(97); id <= 122; id++ {
		if _, ok := byID[id]; !ok {
			t.Errorf("missing glyph %d from FamilyB range", id)
		}
	}
	if len(byID) != 26+26 {
		t.Errorf("expected %d distinct glyphs, got %d", 52, len(byID))
	}
}

func TestResolveRangeFallsBackOnMissingID(t *testing.T) {
	base := t.TempDir()
	fallbackRoot := filepath.Join(base, "OpenSansBold")
	writeRange(t, fallbackRoot, "0-255", []FontStack{stackWithIDs("Open Sans Bold", 1, 2, 3)})

	res := resolver.New(datasource.NewClient(time.Second, nil), nil)
	reg := NewRegistry(res,
		func(string) (Source, bool) { return Source{}, false },
		func(family string) (Source, bool) {
			if family == "Open Sans Bold" {
				return Source{Root: fallbackRoot}, true
			}
			return Source{}, false
		},
	)

	data, err := reg.ResolveRange(context.Background(), []string{"Arial Bold"}, "0-255")
	if err != nil {
		t.Fatalf("ResolveRange: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil || len(decoded) != 1 || len(decoded[0].Glyphs) != 3 {
		t.Fatalf("expected fallback stack with 3 glyphs, got %+v err=%v", decoded, err)
	}
}

func TestResolveRangeNoIDsIsBadRequest(t *testing.T) {
	res := resolver.New(datasource.NewClient(time.Second, nil), nil)
	reg := NewRegistry(res, func(string) (Source, bool) { return Source{}, false }, func(string) (Source, bool) { return Source{}, false })

	_, err := reg.ResolveRange(context.Background(), nil, "0-255")
	if apierrors.KindOf(err) != apierrors.BadRequest {
		t.Errorf("expected BadRequest, got %v", err)
	}
}

func TestResolveRangeUnresolvableIsNotFound(t *testing.T) {
	res := resolver.New(datasource.NewClient(time.Second, nil), nil)
	reg := NewRegistry(res, func(string) (Source, bool) { return Source{}, false }, func(string) (Source, bool) { return Source{}, false })

	_, err := reg.ResolveRange(context.Background(), []string{"Nothing"}, "0-255")
	if apierrors.KindOf(err) != apierrors.NotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func ids(lo, hi uint32) []uint32 {
	out := make([]uint32, 0, hi-lo+1)
	for i := lo; i <= hi; i++ {
		out = append(out, i)
	}
	return out
}
