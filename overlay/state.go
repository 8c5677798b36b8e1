package overlay

import "sync"

type stateKey struct {
	field FieldID
	kind  Kind
}

// State remembers the last rendered value of every field so a reconnecting
// sink can be brought up to date and the status page can show the overlay.
type State struct {
	mu     sync.RWMutex
	order  []stateKey
	values map[stateKey]string
}

// NewState creates an empty State.
func NewState() *State {
	return &State{values: make(map[stateKey]string)}
}

// Record stores the values carried by updates.
func (st *State) Record(updates []Update) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, u := range updates {
		k := stateKey{u.Field, u.Kind}
		if _, ok := st.values[k]; !ok {
			st.order = append(st.order, k)
		}
		st.values[k] = u.Value
	}
}

// Updates returns every recorded value in first-seen order.
func (st *State) Updates() []Update {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make([]Update, 0, len(st.order))
	for _, k := range st.order {
		out = append(out, Update{Field: k.field, Kind: k.kind, Value: st.values[k]})
	}
	return out
}

// Fields returns text and image values keyed by field.
func (st *State) Fields() map[string]string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]string, len(st.values))
	for k, v := range st.values {
		if k.kind == KindColor {
			continue
		}
		out[string(k.field)] = v
	}
	return out
}

// Get returns the text or image value of a field.
func (st *State) Get(f FieldID) (string, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	if v, ok := st.values[stateKey{f, KindText}]; ok {
		return v, true
	}
	v, ok := st.values[stateKey{f, KindImage}]
	return v, ok
}
