// Package robots ships a few robot descriptions compiled into the binary so
// that programs and tests can run without files on disk.
package robots

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/mohammadijoo/diffik/kinematics"
)

//go:embed descriptions/*.yaml
var descriptions embed.FS

var ErrUnknownRobot = errors.New("robots: unknown robot")

// Names lists the embedded robots in alphabetical order.
func Names() []string {
	entries, err := descriptions.ReadDir("descriptions")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Load parses the embedded description of the named robot. Each call returns
// a fresh model.
func Load(name string) (*kinematics.Model, error) {
	raw, err := descriptions.ReadFile(path.Join("descriptions", name+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownRobot, name, strings.Join(Names(), ", "))
	}
	m, err := kinematics.ParseYAML(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("robot %s: %w", name, err)
	}
	return m, nil
}

// Resolve loads name from the embedded set, or from disk when it looks like a
// path to a YAML file.
func Resolve(name string) (*kinematics.Model, error) {
	if strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml") {
		return kinematics.LoadYAML(name)
	}
	return Load(name)
}
