// Package hierarchy arranges application modules into a named group tree
// and answers endpoint queries by qualified name or tag. The tree is an
// index-based arena: groups and modules reference their parent by index,
// and lookups go through maps built once when the tree is frozen.
package hierarchy

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dd0wney/cluso-flownet/pkg/module"
	"github.com/dd0wney/cluso-flownet/pkg/network"
)

// RootIndex is the index of the implicit root group.
const RootIndex = 0

type entryKind int

const (
	kindGroup entryKind = iota
	kindModule
)

type entry struct {
	kind   entryKind
	name   string
	parent int
	mod    *module.ApplicationModule
}

// Tree is the module ownership arena. Not safe for concurrent mutation;
// build it during application construction, then Freeze.
type Tree struct {
	entries []entry
	frozen  bool

	byName     map[string]*network.Node
	byTag      map[string][]*network.Node
	moduleByQN map[string]*module.ApplicationModule
}

// NewTree creates a tree holding only the root group.
func NewTree() *Tree {
	return &Tree{entries: []entry{{kind: kindGroup, name: "", parent: -1}}}
}

// AddGroup adds a named group under parent and returns its index.
func (t *Tree) AddGroup(parent int, name string) (int, error) {
	if err := t.checkInsert(parent, name); err != nil {
		return -1, err
	}
	t.entries = append(t.entries, entry{kind: kindGroup, name: name, parent: parent})
	return len(t.entries) - 1, nil
}

// AddModule attaches a module under parent and returns its index.
func (t *Tree) AddModule(parent int, mod *module.ApplicationModule) (int, error) {
	if err := t.checkInsert(parent, mod.Name()); err != nil {
		return -1, err
	}
	t.entries = append(t.entries, entry{kind: kindModule, name: mod.Name(), parent: parent, mod: mod})
	return len(t.entries) - 1, nil
}

func (t *Tree) checkInsert(parent int, name string) error {
	if t.frozen {
		return fmt.Errorf("hierarchy: tree is frozen, cannot add %q", name)
	}
	if parent < 0 || parent >= len(t.entries) || t.entries[parent].kind != kindGroup {
		return fmt.Errorf("hierarchy: invalid parent group index %d for %q", parent, name)
	}
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("hierarchy: invalid entry name %q", name)
	}
	for i, e := range t.entries {
		if e.parent == parent && e.name == name {
			return fmt.Errorf("hierarchy: duplicate name %q under %s", name, t.QualifiedName(i))
		}
	}
	return nil
}

// QualifiedName returns the slash-joined path of an entry from the root.
func (t *Tree) QualifiedName(idx int) string {
	if idx <= 0 || idx >= len(t.entries) {
		return "/"
	}
	var parts []string
	for i := idx; i > 0; i = t.entries[i].parent {
		parts = append(parts, t.entries[i].name)
	}
	for l, r := 0, len(parts)-1; l < r; l, r = l+1, r-1 {
		parts[l], parts[r] = parts[r], parts[l]
	}
	return "/" + strings.Join(parts, "/")
}

// Modules returns all attached modules in insertion order.
func (t *Tree) Modules() []*module.ApplicationModule {
	var mods []*module.ApplicationModule
	for _, e := range t.entries {
		if e.kind == kindModule {
			mods = append(mods, e.mod)
		}
	}
	return mods
}

// Freeze builds the name and tag indexes. Endpoints are indexed under
// "<group path>/<module>/<endpoint short name>".
func (t *Tree) Freeze() error {
	if t.frozen {
		return fmt.Errorf("hierarchy: tree already frozen")
	}
	t.byName = make(map[string]*network.Node)
	t.byTag = make(map[string][]*network.Node)
	t.moduleByQN = make(map[string]*module.ApplicationModule)
	for i, e := range t.entries {
		if e.kind != kindModule {
			continue
		}
		qn := t.QualifiedName(i)
		t.moduleByQN[qn] = e.mod
		for _, node := range moduleNodes(e.mod) {
			full := qn + "/" + shortName(node.Name())
			if prev, dup := t.byName[full]; dup {
				return fmt.Errorf("hierarchy: endpoint name collision %q (%s)", full, prev.Name())
			}
			t.byName[full] = node
			for _, tag := range e.mod.Tags() {
				t.byTag[tag] = append(t.byTag[tag], node)
			}
		}
	}
	t.frozen = true
	return nil
}

// Frozen reports whether the indexes have been built.
func (t *Tree) Frozen() bool { return t.frozen }

// EndpointByName looks up an endpoint by its fully qualified name.
func (t *Tree) EndpointByName(name string) (*network.Node, bool) {
	n, ok := t.byName[name]
	return n, ok
}

// ModuleByName looks up a module by its fully qualified group path.
func (t *Tree) ModuleByName(name string) (*module.ApplicationModule, bool) {
	m, ok := t.moduleByQN[name]
	return m, ok
}

// EndpointsByTag returns all endpoints of modules carrying tag, sorted by
// name for deterministic iteration.
func (t *Tree) EndpointsByTag(tag string) []*network.Node {
	nodes := append([]*network.Node(nil), t.byTag[tag]...)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name() < nodes[j].Name() })
	return nodes
}

// EndpointNames returns every indexed qualified endpoint name, sorted.
func (t *Tree) EndpointNames() []string {
	names := make([]string, 0, len(t.byName))
	for n := range t.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func moduleNodes(m *module.ApplicationModule) []*network.Node {
	var nodes []*network.Node
	for _, in := range m.Inputs() {
		nodes = append(nodes, in.Node())
	}
	for _, out := range m.Outputs() {
		nodes = append(nodes, out.Node())
	}
	return nodes
}

// shortName strips the module qualifier from a node name.
func shortName(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}
