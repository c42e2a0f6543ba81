// Package host connects the reconciler to the game server: who is online, and where commands go.
package host

import (
	"bufio"
	"io"
	"sort"
	"strings"
	"sync"

	"golang.org/x/text/cases"
)

// Roster is the in-memory set of online players. Lookups are case-insensitive.
type Roster struct {
	mu      sync.RWMutex
	players map[string]string // folded -> display name
}

func NewRoster(names ...string) *Roster {
	r := &Roster{players: make(map[string]string)}
	r.Replace(names)
	return r
}

// fold is called per lookup; a cases.Caser keeps state and is not safe to share.
func fold(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

func (r *Roster) IsPresent(name string) bool {
	key := fold(name)
	if key == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.players[key]
	return ok
}

// Replace swaps the whole roster.
func (r *Roster) Replace(names []string) {
	next := make(map[string]string, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if key := fold(n); key != "" {
			next[key] = n
		}
	}
	r.mu.Lock()
	r.players = next
	r.mu.Unlock()
}

// Names returns the display names, sorted.
func (r *Roster) Names() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.players))
	for _, n := range r.players {
		out = append(out, n)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.players)
}

// ParseRosterFile reads one player name per line. Blank lines and # comments are skipped.
func ParseRosterFile(rd io.Reader) ([]string, error) {
	var names []string
	sc := bufio.NewScanner(rd)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			names = append(names, line)
		}
	}
	return names, sc.Err()
}
