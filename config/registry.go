package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/mkarppi/mcpdrive/paths"
)

// ServerEntry describes how to launch one MCP server.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Cwd     string            `json:"cwd,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Environ flattens Env into KEY=VALUE form, sorted so spawns are
// reproducible.
func (e ServerEntry) Environ() []string {
	if len(e.Env) == 0 {
		return nil
	}
	environ := make([]string, 0, len(e.Env))
	for k, v := range e.Env {
		environ = append(environ, k+"="+v)
	}
	sort.Strings(environ)
	return environ
}

// Registry is the set of named server definitions loaded from a
// servers.json file.
type Registry struct {
	servers map[string]ServerEntry
	path    string
}

// registryFile accepts both the conventional "mcpServers" key and the
// plainer "servers" spelling some tools write.
type registryFile struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`
	Servers    map[string]ServerEntry `json:"servers"`
}

// LoadRegistry reads the server registry at path, or the default location
// when path is empty. A missing file yields an empty registry; a present
// but invalid one is an error. Commands and working directories get ~
// expansion.
func LoadRegistry(path string) (*Registry, error) {
	if path == "" {
		p, err := paths.RegistryFilePath()
		if err != nil {
			return nil, err
		}
		path = p
	} else {
		p, err := paths.ExpandHome(path)
		if err != nil {
			return nil, err
		}
		path = p
	}

	reg := &Registry{
		servers: make(map[string]ServerEntry),
		path:    path,
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read server registry: %w", err)
	}

	var file registryFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse server registry %s: %w", path, err)
	}

	// "mcpServers" wins when a name appears under both keys.
	for name, entry := range file.Servers {
		reg.servers[name] = entry
	}
	for name, entry := range file.MCPServers {
		reg.servers[name] = entry
	}

	for name, entry := range reg.servers {
		expanded, err := expandEntry(entry)
		if err != nil {
			return nil, fmt.Errorf("server registry %s: entry %q: %w", path, name, err)
		}
		reg.servers[name] = expanded
	}

	if err := reg.validate(); err != nil {
		return nil, fmt.Errorf("server registry %s: %w", path, err)
	}
	return reg, nil
}

func expandEntry(entry ServerEntry) (ServerEntry, error) {
	command, err := paths.ExpandHome(entry.Command)
	if err != nil {
		return entry, err
	}
	cwd, err := paths.ExpandHome(entry.Cwd)
	if err != nil {
		return entry, err
	}
	entry.Command = command
	entry.Cwd = cwd
	return entry, nil
}

func (r *Registry) validate() error {
	var errs []error
	for _, name := range r.Names() {
		if name == "" {
			errs = append(errs, errors.New("entry with empty name"))
			continue
		}
		if r.servers[name].Command == "" {
			errs = append(errs, fmt.Errorf("entry %q has no command", name))
		}
	}
	return errors.Join(errs...)
}

// Lookup returns the entry registered under name, if any.
func (r *Registry) Lookup(name string) (ServerEntry, bool) {
	entry, ok := r.servers[name]
	return entry, ok
}

// Names returns the registered server names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.servers))
	for name := range r.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns where the registry was loaded from, for error messages.
func (r *Registry) Path() string {
	return r.path
}
