// Package state is the bridge's single context object. It owns the three
// durable maps (config, session->thread bindings, muted threads) and the
// in-memory caches derived from them, and persists every durable mutation
// immediately through the Directory Store.
package state

import (
	"sort"
	"sync"
	"time"

	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/store"
)

// State holds all shared bridge state. Safe for concurrent use.
type State struct {
	mu  sync.Mutex
	dir *store.Directory

	config   store.BridgeConfig
	bindings map[string]string   // session key -> thread id
	muted    map[string]struct{} // thread ids
	watched  map[string]string   // thread id -> session key

	busy      bool
	turnStart time.Time

	named       map[string]bool   // session key -> name assigned
	lastSession map[string]string // session key -> last seen agent session name
}

// New loads durable state from dir. Absent values start empty or default.
func New(dir *store.Directory) *State {
	s := &State{
		dir:         dir,
		named:       make(map[string]bool),
		lastSession: make(map[string]string),
	}
	s.load()
	return s
}

func (s *State) load() {
	cfg, ok := s.dir.Config.Load()
	if !ok {
		cfg = store.DefaultBridgeConfig()
	}

	bindings, _ := s.dir.Bindings.Load()
	if bindings == nil {
		bindings = store.Bindings{}
	}

	muted := make(map[string]struct{})
	if list, ok := s.dir.Muted.Load(); ok {
		for _, id := range list {
			muted[id] = struct{}{}
		}
	}

	s.mu.Lock()
	s.config = cfg
	s.bindings = bindings
	s.muted = muted
	s.rebuildIndexLocked()
	s.mu.Unlock()

	L_debug("state: loaded", "channel", cfg.ChannelID, "bindings", len(bindings), "muted", len(muted))
}

// Config returns a copy of the bridge config.
func (s *State) Config() store.BridgeConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// UpdateConfig applies fn to the config and persists the result.
func (s *State) UpdateConfig(fn func(*store.BridgeConfig)) (store.BridgeConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.config)
	return s.config, s.dir.Config.Save(s.config)
}

// ReloadConfig re-reads the config from the store, returning the new value
// and whether it changed.
func (s *State) ReloadConfig() (store.BridgeConfig, bool) {
	cfg, ok := s.dir.Config.Load()
	if !ok {
		cfg = store.DefaultBridgeConfig()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := cfg != s.config
	s.config = cfg
	return cfg, changed
}

// Binding returns the thread bound to a session.
func (s *State) Binding(sessionKey string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bindings[sessionKey]
	return id, ok
}

// Bind records sessionKey -> threadID, replacing any earlier thread for the
// session, and updates the watched index.
func (s *State) Bind(sessionKey, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.bindings[sessionKey]; ok && old != threadID {
		delete(s.watched, old)
	}
	s.bindings[sessionKey] = threadID
	s.watched[threadID] = sessionKey
	return s.saveBindingsLocked()
}

// Unbind removes a session's binding and its index entry. Returns the
// thread id that was bound, if any.
func (s *State) Unbind(sessionKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.bindings[sessionKey]
	if !ok {
		return "", nil
	}
	delete(s.bindings, sessionKey)
	delete(s.watched, id)
	return id, s.saveBindingsLocked()
}

// Bindings returns a copy of the binding map.
func (s *State) Bindings() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.bindings))
	for k, v := range s.bindings {
		out[k] = v
	}
	return out
}

func (s *State) saveBindingsLocked() error {
	snapshot := make(store.Bindings, len(s.bindings))
	for k, v := range s.bindings {
		snapshot[k] = v
	}
	return s.dir.Bindings.Save(snapshot)
}

// RebuildIndex recomputes the thread -> session index from the bindings.
func (s *State) RebuildIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildIndexLocked()
}

func (s *State) rebuildIndexLocked() {
	s.watched = make(map[string]string, len(s.bindings))
	for key, id := range s.bindings {
		s.watched[id] = key
	}
}

// SessionForThread returns the session watching a thread.
func (s *State) SessionForThread(threadID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.watched[threadID]
	return key, ok
}

// IsMuted reports whether a thread is muted.
func (s *State) IsMuted(threadID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.muted[threadID]
	return ok
}

// Mute adds a thread to the muted set.
func (s *State) Mute(threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted[threadID] = struct{}{}
	return s.saveMutedLocked()
}

// Unmute removes a thread from the muted set. Returns false if it was not muted.
func (s *State) Unmute(threadID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.muted[threadID]; !ok {
		return false, nil
	}
	delete(s.muted, threadID)
	return true, s.saveMutedLocked()
}

// Muted returns the muted thread ids, sorted.
func (s *State) Muted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mutedListLocked()
}

func (s *State) mutedListLocked() []string {
	list := make([]string, 0, len(s.muted))
	for id := range s.muted {
		list = append(list, id)
	}
	sort.Strings(list)
	return list
}

func (s *State) saveMutedLocked() error {
	return s.dir.Muted.Save(store.Muted(s.mutedListLocked()))
}

// SetBusy records the agent busy state. The start time is kept only while busy.
func (s *State) SetBusy(busy bool, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
	if busy {
		s.turnStart = at
	} else {
		s.turnStart = time.Time{}
	}
}

// MarkBusy sets busy if the agent is idle. Returns true if it was idle.
func (s *State) MarkBusy(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	s.turnStart = at
	return true
}

// Busy returns the busy flag and the current turn's start time.
func (s *State) Busy() (bool, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy, s.turnStart
}

// Named reports whether a session's thread has been given a name.
func (s *State) Named(sessionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.named[sessionKey]
}

// MarkNamed sets the naming flag for a session.
func (s *State) MarkNamed(sessionKey string) {
	s.mu.Lock()
	s.named[sessionKey] = true
	s.mu.Unlock()
}

// ClaimNaming sets the naming flag and reports whether it was unset.
// Only one caller per session wins.
func (s *State) ClaimNaming(sessionKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.named[sessionKey] {
		return false
	}
	s.named[sessionKey] = true
	return true
}

// ObserveSessionName records the agent's session name and reports whether
// it changed to a new non-empty value since last observed.
func (s *State) ObserveSessionName(sessionKey, name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.lastSession[sessionKey]
	s.lastSession[sessionKey] = name
	return name != "" && name != prev
}
