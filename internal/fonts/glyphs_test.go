package fonts

import (
	"reflect"
	"testing"
)

func stackWithIDs(name string, ids ...uint32) FontStack {
	fs := FontStack{Name: name, Range: "0-255"}
	for _, id := range ids {
		fs.Glyphs = append(fs.Glyphs, Glyph{ID: id, Width: 10, Height: 12, Left: -1, Top: 2, Advance: 11})
	}
	return fs
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	stacks := []FontStack{stackWithIDs("FamilyA", 65, 66, 67)}
	encoded := Encode(stacks)

	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected 1 stack, got %d", len(decoded))
	}
	if decoded[0].Name != "FamilyA" || decoded[0].Range != "0-255" {
		t.Errorf("unexpected stack header: %+v", decoded[0])
	}
	if !reflect.DeepEqual(decoded[0].Glyphs, stacks[0].Glyphs) {
		t.Errorf("glyphs did not round-trip: got %+v want %+v", decoded[0].Glyphs, stacks[0].Glyphs)
	}
}

func TestMergeUnionFirstWriterWins(t *testing.T) {
	a := Encode([]FontStack{stackWithIDs("FamilyA", 65, 66, 90)})
	b := Encode([]FontStack{stackWithIDs("FamilyB", 97, 122, 65)}) // 65 collides with A

	merged, err := Merge([][]byte{a, b})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}

	decoded, err := Decode(merged)
	if err != nil {
		t.Fatalf("Decode(merged): %v", err)
	}
	if len(decoded) != 1 {
		t.Fatalf("expected a single merged stack, got %d", len(decoded))
	}
	stack := decoded[0]

	if stack.Name != "FamilyA,FamilyB" {
		t.Errorf("Name = %q, want %q", stack.Name, "FamilyA,FamilyB")
	}

	ids := make(map[uint32]bool)
	for _, g := range stack.Glyphs {
		ids[g.ID] = true
	}
	for _, want := range []uint32{65, 66, 90, 97, 122} {
		if !ids[want] {
			t.Errorf("expected merged set to include glyph %d", want)
		}
	}
	if len(ids) != 5 {
		t.Errorf("expected exactly 5 distinct glyph ids, got %d", len(ids))
	}
}

func TestMergeSingleInputPassthrough(t *testing.T) {
	a := Encode([]FontStack{stackWithIDs("Solo", 1, 2, 3)})
	merged, err := Merge([][]byte{a})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	decoded, err := Decode(merged)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded[0].Glyphs) != 3 {
		t.Errorf("expected 3 glyphs, got %d", len(decoded[0].Glyphs))
	}
}

func TestFallbackFamily(t *testing.T) {
	cases := map[string]string{
		"Arial Bold Italic": "Open Sans Bold Italic",
		"Arial Bold":        "Open Sans Bold",
		"Arial Italic":      "Open Sans Italic",
		"Arial Light":       "Open Sans Light",
		"Arial Regular":     "Open Sans Regular",
		"Comic Sans":        "Open Sans Regular",
	}
	for in, want := range cases {
		if got := FallbackFamily(in); got != want {
			t.Errorf("FallbackFamily(%q) = %q, want %q", in, got, want)
		}
	}
}
