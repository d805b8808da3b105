package streams

import "sort"

// Tracker holds the per-channel state registry and turns one poll cycle's
// live set into transition events with a mark-and-sweep diff. It is not
// safe for concurrent use; the owning plugin serializes access.
type Tracker struct {
	registry map[string]ChannelState
}

func NewTracker() *Tracker {
	return &Tracker{registry: map[string]ChannelState{}}
}

// Apply consumes one complete poll result and returns the transitions it
// caused, online events first (in arrival order), then offline events.
//
// Mark: every ONLINE entry becomes WASONLINE. Sweep-in: each live name
// still OFFLINE emits an online transition; names already WASONLINE (live
// last cycle) or already ONLINE (repeated within this result, the API may
// return a login twice across chunks) do not. Every live name ends ONLINE.
// Sweep-out: entries still WASONLINE were live last cycle but absent now,
// so they emit an offline transition and end OFFLINE. A steady live set
// therefore emits nothing, and WASONLINE never survives a call.
func (t *Tracker) Apply(live []string) []Transition {
	for name, st := range t.registry {
		if st == StateOnline {
			t.registry[name] = StateWasOnline
		}
	}

	var out []Transition
	for _, name := range live {
		if t.registry[name] == StateOffline {
			out = append(out, Transition{Name: name, Online: true})
		}
		t.registry[name] = StateOnline
	}

	for name, st := range t.registry {
		if st == StateWasOnline {
			t.registry[name] = StateOffline
			out = append(out, Transition{Name: name, Online: false})
		}
	}
	return out
}

// Online returns the channels currently ONLINE, sorted.
func (t *Tracker) Online() []string {
	var out []string
	for name, st := range t.registry {
		if st == StateOnline {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// Len reports the registry size.
func (t *Tracker) Len() int { return len(t.registry) }

// Prune drops registry entries not in keep and returns how many were
// removed. Called on reconfiguration so deconfigured channels don't linger
// (and can't emit a stray offline event later).
func (t *Tracker) Prune(keep map[string]struct{}) int {
	removed := 0
	for name := range t.registry {
		if _, ok := keep[name]; !ok {
			delete(t.registry, name)
			removed++
		}
	}
	return removed
}
