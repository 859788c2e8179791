package channel

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var groupFolderPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

// GroupRegistry is the set of registered groups, keyed by address.
// The inbound pipeline only reads it; registration happens elsewhere.
type GroupRegistry struct {
	mu     sync.RWMutex
	groups map[string]RegisteredGroup
}

// NewGroupRegistry creates a registry seeded with groups. Invalid entries are rejected.
func NewGroupRegistry(groups ...RegisteredGroup) (*GroupRegistry, error) {
	r := &GroupRegistry{groups: make(map[string]RegisteredGroup, len(groups))}
	for _, g := range groups {
		if err := r.Put(g); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ValidateGroupFolder checks that folder is a single safe path segment.
func ValidateGroupFolder(folder string) error {
	if !groupFolderPattern.MatchString(folder) {
		return fmt.Errorf("invalid group folder %q", folder)
	}
	return nil
}

// Put adds or replaces a registered group.
func (r *GroupRegistry) Put(g RegisteredGroup) error {
	g.JID = strings.TrimSpace(g.JID)
	if g.JID == "" {
		return fmt.Errorf("group jid is required")
	}
	if err := ValidateGroupFolder(g.Folder); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[g.JID] = g
	return nil
}

// Remove deletes the group for jid and reports whether it existed.
func (r *GroupRegistry) Remove(jid string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.groups[jid]; !ok {
		return false
	}
	delete(r.groups, jid)
	return true
}

// Group returns the registered group for jid.
func (r *GroupRegistry) Group(jid string) (RegisteredGroup, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[jid]
	return g, ok
}

// List returns all groups ordered by address.
func (r *GroupRegistry) List() []RegisteredGroup {
	r.mu.RLock()
	out := make([]RegisteredGroup, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, g)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JID < out[j].JID })
	return out
}
