// Package hosttest provides an in-memory host.Host for tests.
package hosttest

import (
	"context"
	"sync"

	"github.com/roelfdiedericks/discordbridge/internal/host"
)

// Sent is a recorded SendUserMessage call.
type Sent struct {
	Turn     host.Turn
	Delivery host.Delivery
}

// Notice is a recorded Notify call.
type Notice struct {
	Text  string
	Level host.Level
}

// Host records everything sent to it.
type Host struct {
	mu       sync.Mutex
	session  host.SessionInfo
	sent     []Sent
	notices  []Notice
	messages []host.Message

	// SendErr, when set, is returned by SendUserMessage.
	SendErr error
	// OnSend, when set, runs inside SendUserMessage before recording.
	OnSend func(host.Turn, host.Delivery)
}

// New returns a host whose current session is sess.
func New(sess host.SessionInfo) *Host {
	return &Host{session: sess}
}

func (h *Host) Session() host.SessionInfo {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// SetSession switches the current session.
func (h *Host) SetSession(sess host.SessionInfo) {
	h.mu.Lock()
	h.session = sess
	h.mu.Unlock()
}

func (h *Host) SendUserMessage(ctx context.Context, turn host.Turn, d host.Delivery) error {
	if h.OnSend != nil {
		h.OnSend(turn, d)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SendErr != nil {
		return h.SendErr
	}
	h.sent = append(h.sent, Sent{Turn: turn, Delivery: d})
	return nil
}

func (h *Host) Notify(text string, level host.Level) {
	h.mu.Lock()
	h.notices = append(h.notices, Notice{Text: text, Level: level})
	h.mu.Unlock()
}

func (h *Host) RecentMessages(ctx context.Context) ([]host.Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]host.Message(nil), h.messages...), nil
}

// SetMessages sets what RecentMessages returns.
func (h *Host) SetMessages(msgs []host.Message) {
	h.mu.Lock()
	h.messages = msgs
	h.mu.Unlock()
}

// Sent returns the recorded turns.
func (h *Host) Sent() []Sent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Sent(nil), h.sent...)
}

// Notices returns the recorded notifications.
func (h *Host) Notices() []Notice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Notice(nil), h.notices...)
}
