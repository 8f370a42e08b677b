package server

import "testing"

func TestParseDatasPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  datasRoute
		ok    bool
	}{
		{"tilejson", "basemap.json", datasRoute{kind: routeTileJSON, id: "basemap"}, true},
		{"md5", "basemap/md5", datasRoute{kind: routeMD5, id: "basemap"}, true},
		{"download", "basemap/download", datasRoute{kind: routeDownload, id: "basemap"}, true},
		{"extra-info", "basemap/extra-info", datasRoute{kind: routeExtraInfo, id: "basemap"}, true},
		{"export", "basemap/export", datasRoute{kind: routeExport, id: "basemap"}, true},
		{"tile", "basemap/5/10/12.png", datasRoute{kind: routeTile, id: "basemap", z: 5, x: 10, y: 12, format: "png"}, true},
		{"unknown action", "basemap/frobnicate", datasRoute{}, false},
		{"empty", "", datasRoute{}, false},
		{"non-numeric coords", "basemap/a/b/c.png", datasRoute{}, false},
		{"missing format", "basemap/5/10/12", datasRoute{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseDatasPath(tt.input)
			if ok != tt.ok {
				t.Fatalf("parseDatasPath(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("parseDatasPath(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParseFontsPath(t *testing.T) {
	got, ok := parseFontsPath("Open Sans Regular,Arial Unicode MS Regular/0-255.pbf")
	if !ok {
		t.Fatal("expected ok")
	}
	want := fontsRoute{ids: []string{"Open Sans Regular", "Arial Unicode MS Regular"}, rng: "0-255"}
	if got.rng != want.rng || len(got.ids) != len(want.ids) {
		t.Errorf("parseFontsPath() = %+v, want %+v", got, want)
	}
	if _, ok := parseFontsPath("missing-range"); ok {
		t.Error("expected rejection of path with no range segment")
	}
}

func TestParseStylesPath(t *testing.T) {
	got, ok := parseStylesPath("basic.json")
	if !ok || got.id != "basic" {
		t.Errorf("parseStylesPath(%q) = %+v, %v", "basic.json", got, ok)
	}
	if _, ok := parseStylesPath("basic"); ok {
		t.Error("expected rejection of path without .json suffix")
	}
	if _, ok := parseStylesPath(""); ok {
		t.Error("expected rejection of empty path")
	}
}

func TestParseGeoJSONPath(t *testing.T) {
	got, ok := parseGeoJSONPath("admin/boundaries")
	if !ok || got.group != "admin" || got.layer != "boundaries" {
		t.Errorf("parseGeoJSONPath(%q) = %+v, %v", "admin/boundaries", got, ok)
	}
	if _, ok := parseGeoJSONPath("admin"); ok {
		t.Error("expected rejection of single-segment path")
	}
	if _, ok := parseGeoJSONPath("admin/boundaries/extra"); ok {
		t.Error("expected rejection of three-segment path")
	}
}

func TestParseSpritesPath(t *testing.T) {
	got, ok := parseSpritesPath("basic/sprite.png")
	if !ok || got.id != "basic" || got.fileName != "sprite.png" {
		t.Errorf("parseSpritesPath(%q) = %+v, %v", "basic/sprite.png", got, ok)
	}
	if _, ok := parseSpritesPath("basic"); ok {
		t.Error("expected rejection of single-segment path")
	}
}
