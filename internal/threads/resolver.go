// Package threads maps agent sessions to Discord threads: finding or
// creating the bound thread, and naming it.
package threads

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/roelfdiedericks/discordbridge/internal/discord"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/state"
)

// FallbackLabel names threads for sessions the agent has not named.
const FallbackLabel = "new session"

// Resolver finds or creates the thread bound to a session.
type Resolver struct {
	state  *state.State
	client discord.Client

	// one resolution per session at a time, so concurrent callers cannot
	// create two threads for the same session
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewResolver returns a resolver over the shared state.
func NewResolver(st *state.State, client discord.Client) *Resolver {
	return &Resolver{state: st, client: client, locks: make(map[string]*sync.Mutex)}
}

func (r *Resolver) lock(key string) func() {
	r.mu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Existing returns the bound, unmuted thread id without touching Discord.
func (r *Resolver) Existing(sessionKey string) (string, bool) {
	id, ok := r.state.Binding(sessionKey)
	if !ok || r.state.IsMuted(id) {
		return "", false
	}
	return id, true
}

// Resolve returns the session's thread, creating it if needed. seed is the
// first message of a newly created thread; nil means a plain start message.
// Returns (nil, false, nil) when the session's thread is muted. created
// reports whether the thread was made by this call.
func (r *Resolver) Resolve(ctx context.Context, sess host.SessionInfo, seed *discord.Message) (thread *discord.Thread, created bool, err error) {
	unlock := r.lock(sess.Key)
	defer unlock()

	if id, ok := r.state.Binding(sess.Key); ok {
		if r.state.IsMuted(id) {
			L_trace("threads: session muted", "session", sess.Key, "thread", id)
			return nil, false, nil
		}

		t, err := r.client.FetchThread(ctx, id)
		switch {
		case err == nil:
			if t.Archived {
				if err := r.client.UnarchiveThread(ctx, id); err != nil {
					return nil, false, err
				}
				t.Archived = false
				L_debug("threads: unarchived", "thread", id)
			}
			return t, false, nil
		case errors.Is(err, discord.ErrThreadNotFound):
			L_info("threads: bound thread gone, recreating", "session", sess.Key, "thread", id)
			if _, err := r.state.Unbind(sess.Key); err != nil {
				L_warn("threads: failed to persist eviction", "error", err)
			}
		default:
			return nil, false, err
		}
	}

	msg := discord.Message{Content: startMessage(sess)}
	if seed != nil {
		msg = *seed
	}
	t, err := r.client.CreateThread(ctx, ThreadName(sess.ProjectDir, sess.Name), msg)
	if err != nil {
		return nil, false, fmt.Errorf("create thread: %w", err)
	}
	if err := r.state.Bind(sess.Key, t.ID); err != nil {
		L_warn("threads: failed to persist binding", "session", sess.Key, "error", err)
	}
	if sess.Name != "" {
		r.state.ObserveSessionName(sess.Key, sess.Name)
		r.state.MarkNamed(sess.Key)
	}
	L_info("threads: created", "session", sess.Key, "thread", t.ID, "name", t.Name)
	return t, true, nil
}

// ProjectName is the last element of the project directory.
func ProjectName(projectDir string) string {
	if projectDir == "" {
		return "agent"
	}
	return filepath.Base(filepath.Clean(projectDir))
}

// ThreadName builds "{project} — {label}" within the platform limit.
func ThreadName(projectDir, label string) string {
	if label == "" {
		label = FallbackLabel
	}
	return discord.Truncate(ProjectName(projectDir)+" — "+label, discord.MaxThreadNameLength)
}

func startMessage(sess host.SessionInfo) string {
	return fmt.Sprintf("🧵 Session started in `%s`", ProjectName(sess.ProjectDir))
}
