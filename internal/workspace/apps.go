package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/virtlab/virtlab/models"
)

// AppsDir is the app catalog directory name inside a workspace directory,
// and AppFile the descriptor name inside each app subdirectory.
const (
	AppsDir = "apps"
	AppFile = "app.yaml"
)

// Catalog is the set of app descriptors loaded from a workspace apps
// directory.
type Catalog struct {
	apps map[string]*models.App
}

// LoadCatalog reads every <dir>/<app>/app.yaml descriptor. Subdirectories
// without a descriptor are skipped; a missing apps directory yields an empty
// catalog, since a workspace may drive bare nodes without any apps.
func LoadCatalog(dir string) (*Catalog, error) {
	catalog := &Catalog{apps: make(map[string]*models.App)}

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return catalog, nil
		}
		return nil, fmt.Errorf("failed to read apps directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		descriptor := filepath.Join(dir, entry.Name(), AppFile)
		data, err := os.ReadFile(descriptor)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read app descriptor %s: %w", descriptor, err)
		}

		app := &models.App{}
		if err := yaml.Unmarshal(data, app); err != nil {
			return nil, fmt.Errorf("failed to parse app descriptor %s: %w", descriptor, err)
		}
		if app.Name == "" {
			app.Name = entry.Name()
		}
		if err := validate.Struct(app); err != nil {
			return nil, fmt.Errorf("invalid app descriptor %s: %w", descriptor, err)
		}
		if _, ok := catalog.apps[app.Name]; ok {
			return nil, fmt.Errorf("duplicate app name %q in %s", app.Name, dir)
		}
		catalog.apps[app.Name] = app
	}
	return catalog, nil
}

// App returns the descriptor for an app name, or nil when unknown.
func (c *Catalog) App(name string) *models.App {
	return c.apps[name]
}

// Names returns every app name in the catalog, sorted.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.apps))
	for name := range c.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
