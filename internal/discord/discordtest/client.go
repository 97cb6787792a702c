// Package discordtest provides an in-memory discord.Client for tests.
package discordtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/roelfdiedericks/discordbridge/internal/discord"
)

// Sent is a message recorded by SendMessage or as a thread seed.
type Sent struct {
	ChannelID string
	ID        string
	Msg       discord.Message
}

// Client is a fake discord.Client with a set of known threads.
type Client struct {
	mu sync.Mutex

	connected bool
	botID     string
	threads   map[string]*discord.Thread
	next      int

	Sent       []Sent
	Created    []string // thread ids, in creation order
	Deleted    []string
	Renamed    map[string]string
	Unarchived []string
	Reactions  []string // "channel/message/emoji"

	// FetchErr, when set, is returned by FetchThread for any id.
	FetchErr error
	// SendErr, when set, is returned by SendMessage.
	SendErr error
}

// New returns a connected fake.
func New() *Client {
	return &Client{
		connected: true,
		botID:     "bot",
		threads:   make(map[string]*discord.Thread),
		Renamed:   make(map[string]string),
	}
}

// SetConnected toggles the connection state.
func (c *Client) SetConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// AddThread registers an existing thread.
func (c *Client) AddThread(t discord.Thread) {
	c.mu.Lock()
	c.threads[t.ID] = &t
	c.mu.Unlock()
}

// RemoveThread forgets a thread, as if it was deleted out of band.
func (c *Client) RemoveThread(id string) {
	c.mu.Lock()
	delete(c.threads, id)
	c.mu.Unlock()
}

// Thread returns a known thread.
func (c *Client) Thread(id string) (discord.Thread, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.threads[id]
	if !ok {
		return discord.Thread{}, false
	}
	return *t, true
}

// SentTo returns the messages sent to a channel, in order.
func (c *Client) SentTo(channelID string) []discord.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []discord.Message
	for _, s := range c.Sent {
		if s.ChannelID == channelID {
			out = append(out, s.Msg)
		}
	}
	return out
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) BotID() string {
	return c.botID
}

func (c *Client) check() error {
	if !c.connected {
		return discord.ErrNotConnected
	}
	return nil
}

func (c *Client) FetchThread(ctx context.Context, id string) (*discord.Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.FetchErr != nil {
		return nil, c.FetchErr
	}
	t, ok := c.threads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", discord.ErrThreadNotFound, id)
	}
	cp := *t
	return &cp, nil
}

func (c *Client) UnarchiveThread(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	if t, ok := c.threads[id]; ok {
		t.Archived = false
	}
	c.Unarchived = append(c.Unarchived, id)
	return nil
}

func (c *Client) CreateThread(ctx context.Context, name string, seed discord.Message) (*discord.Thread, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return nil, err
	}
	c.next++
	t := &discord.Thread{ID: fmt.Sprintf("T%d", c.next), Name: discord.Truncate(name, discord.MaxThreadNameLength)}
	c.threads[t.ID] = t
	c.Created = append(c.Created, t.ID)
	c.Sent = append(c.Sent, Sent{ChannelID: t.ID, ID: fmt.Sprintf("seed-%s", t.ID), Msg: seed})
	cp := *t
	return &cp, nil
}

func (c *Client) RenameThread(ctx context.Context, id, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	name = discord.Truncate(name, discord.MaxThreadNameLength)
	if t, ok := c.threads[id]; ok {
		t.Name = name
	}
	c.Renamed[id] = name
	return nil
}

func (c *Client) DeleteThread(ctx context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	delete(c.threads, id)
	c.Deleted = append(c.Deleted, id)
	return nil
}

func (c *Client) SendMessage(ctx context.Context, channelID string, msg discord.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return "", err
	}
	if c.SendErr != nil {
		return "", c.SendErr
	}
	c.next++
	id := fmt.Sprintf("M%d", c.next)
	c.Sent = append(c.Sent, Sent{ChannelID: channelID, ID: id, Msg: msg})
	return id, nil
}

func (c *Client) React(ctx context.Context, channelID, messageID, emoji string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.check(); err != nil {
		return err
	}
	c.Reactions = append(c.Reactions, channelID+"/"+messageID+"/"+emoji)
	return nil
}

// Snapshot returns copies of the recorded slices under the lock.
func (c *Client) Snapshot() (sent []Sent, created, deleted []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.Sent...), append([]string(nil), c.Created...), append([]string(nil), c.Deleted...)
}
