// Package profiles provides embedded TSA endpoint profile templates.
//
// These profiles describe well-known public timestamp authorities and are
// embedded in the binary for convenience. Users can also copy and
// customize them, or point --profile at their own YAML files.
package profiles

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

// FS contains all embedded profile YAML files.
//
//go:embed *.yaml
var FS embed.FS

// Read returns the raw YAML of a builtin profile by name ("freetsa" or
// "freetsa.yaml").
func Read(name string) ([]byte, error) {
	if !strings.HasSuffix(name, ".yaml") {
		name += ".yaml"
	}
	data, err := FS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("unknown builtin profile %q (available: %s)",
			strings.TrimSuffix(name, ".yaml"), strings.Join(Names(), ", "))
	}
	return data, nil
}

// Names lists the builtin profile names.
func Names() []string {
	entries, err := FS.ReadDir(".")
	if err != nil {
		return nil
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".yaml") {
			names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
		}
	}
	sort.Strings(names)
	return names
}
