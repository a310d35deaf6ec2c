package cache

import (
	"strings"
	"testing"
)

const identifiersDoc = `{
	"ARC_STORM-1-1": {
		"android": {"packageName": "com.example.storm.one"},
		"name": {"en": "Storm One", "de": "Sturm Eins"}
	},
	"ARC_STORM-1-2": {
		"name": {"en": "No Package"}
	},
	"ARC_STORM-1-3": {
		"android": {"packageName": "com.example.storm.three"},
		"name": {"en": "Storm Three"}
	}
}`

func TestLoadIdentifiers(t *testing.T) {
	ids, err := LoadIdentifiers(strings.NewReader(identifiersDoc))
	if err != nil {
		t.Fatalf("LoadIdentifiers returned error: %v", err)
	}

	app, ok := ids.App("ARC_STORM-1-1")
	if !ok {
		t.Fatal("ARC_STORM-1-1 not loaded")
	}
	if app.PackageName != "com.example.storm.one" {
		t.Errorf("PackageName = %q", app.PackageName)
	}
	if app.Names["de"] != "Sturm Eins" {
		t.Errorf("Names[de] = %q", app.Names["de"])
	}

	// Entries without a package name are skipped, not fatal.
	if _, ok := ids.App("ARC_STORM-1-2"); ok {
		t.Error("entry without package name was loaded")
	}
	if got := len(ids.Apps()); got != 2 {
		t.Errorf("len(Apps) = %d, want 2", got)
	}
}

func TestLoadIdentifiers_Malformed(t *testing.T) {
	if _, err := LoadIdentifiers(strings.NewReader("not json")); err == nil {
		t.Fatal("LoadIdentifiers accepted malformed input")
	}
}
