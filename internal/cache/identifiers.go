package cache

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

// App is one entry in the identifiers file, describing a sibling CMS app for
// inter-app linking. Names maps a locale code to a display label.
type App struct {
	AppID       string
	PackageName string
	Names       map[string]string
}

// Identifiers indexes the apps declared in data/identifiers.json.
type Identifiers struct {
	apps map[string]App
}

// identifiers.json wire shape:
//
//	{"ARC_STORM-1-1": {"android": {"packageName": "..."}, "name": {"en": "..."}}}
type rawApp struct {
	Android struct {
		PackageName string `json:"packageName"`
	} `json:"android"`
	Name map[string]string `json:"name"`
}

// LoadIdentifiers reads an identifiers document. Entries missing an android
// package name are skipped with a warning rather than failing the load;
// a single malformed app must not take inter-app linking down with it.
func LoadIdentifiers(r io.Reader) (*Identifiers, error) {
	var raw map[string]rawApp
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse identifiers: %w", err)
	}

	apps := make(map[string]App, len(raw))
	for id, entry := range raw {
		if entry.Android.PackageName == "" {
			slog.Warn("skipping identifiers entry without package name",
				"component", "cache",
				"action", "identifiers_entry_skipped",
				"app_id", id,
			)
			continue
		}
		apps[id] = App{
			AppID:       id,
			PackageName: entry.Android.PackageName,
			Names:       entry.Name,
		}
	}

	return &Identifiers{apps: apps}, nil
}

// App looks up an app by its CMS identifier.
func (i *Identifiers) App(id string) (App, bool) {
	app, ok := i.apps[id]
	return app, ok
}

// Apps returns all loaded apps keyed by identifier.
func (i *Identifiers) Apps() map[string]App {
	return i.apps
}
