package models

// App describes one installable application: where its files live on the
// controlling host and on a device, and the named command templates that
// drive its lifecycle.
//
// Apps are loaded from the workspace apps directory, one subdirectory per
// app with an app.yaml descriptor:
//
//	name: nodeos
//	directories:
//	  source: rootfs
//	  target: /opt/nodeos
//	  source_bin: target/release
//	  target_bin: /opt/nodeos/bin
//	commands:
//	  build_all:
//	    - "{{system.base_dir}}/scripts/build --all"
//	  install:
//	    - "/opt/nodeos/install.sh {{nodeos.zone_id}}"
//
// Command template strings may reference `{{object.attribute}}` variables;
// resolution happens at execution time against the workspace environment
// snapshot, never at load time.
type App struct {
	// Name is the unique app name
	Name string `yaml:"name" validate:"required"`

	// Directories maps logical directory names to paths. The orchestrator
	// uses "source"/"target" for install and "source_bin"/"target_bin" for
	// update; additional names are opaque to the engine.
	Directories map[string]string `yaml:"directories,omitempty"`

	// Commands maps a command name to its ordered template list
	Commands map[string][]string `yaml:"commands,omitempty"`
}

// Dir returns the path for a logical directory name, or "" when undeclared.
func (a *App) Dir(name string) string {
	return a.Directories[name]
}

// Command returns the ordered template list for a command name, or nil when
// the app does not declare it.
func (a *App) Command(name string) []string {
	return a.Commands[name]
}
