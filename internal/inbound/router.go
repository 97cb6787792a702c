// Package inbound turns Discord messages in watched threads into agent turns.
package inbound

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/roelfdiedericks/discordbridge/internal/discord"
	"github.com/roelfdiedericks/discordbridge/internal/host"
	. "github.com/roelfdiedericks/discordbridge/internal/logging"
	"github.com/roelfdiedericks/discordbridge/internal/media"
	"github.com/roelfdiedericks/discordbridge/internal/state"
	"github.com/roelfdiedericks/discordbridge/internal/stt"
)

// ImageCaption stands in for the text of an image-only message.
const ImageCaption = "<media:image>"

// VoiceEchoPrefix starts the transcription echo posted back to the thread.
const VoiceEchoPrefix = "🎙️ "

// Transcriber turns a voice attachment into text.
type Transcriber interface {
	Transcribe(ctx context.Context, url, filename string) (string, error)
}

// ImageFetcher downloads an image attachment ready for the model.
type ImageFetcher interface {
	FetchImage(ctx context.Context, url string) (*media.ImageData, error)
}

// Router delivers chat messages to the agent in the order Discord sent them.
// Each accepted message takes a ticket on arrival; its slow work (downloads,
// transcription) runs concurrently with later messages, but delivery waits
// until the previous ticket has been delivered or dropped.
type Router struct {
	state  *state.State
	client discord.Client
	host   host.Host
	voice  Transcriber // nil disables voice messages
	images ImageFetcher
	now    func() time.Time

	mu   sync.Mutex
	tail chan struct{}
	wg   sync.WaitGroup
}

// NewRouter wires a router. voice may be nil.
func NewRouter(st *state.State, client discord.Client, h host.Host, voice Transcriber, images ImageFetcher) *Router {
	tail := make(chan struct{})
	close(tail)
	return &Router{
		state:  st,
		client: client,
		host:   h,
		voice:  voice,
		images: images,
		now:    time.Now,
		tail:   tail,
	}
}

// HandleMessage is the gateway's message callback. It must be called in
// arrival order; it returns as soon as the message has its ticket.
func (r *Router) HandleMessage(ctx context.Context, m discord.IncomingMessage) {
	sessionKey, ok := r.accept(m)
	if !ok {
		return
	}

	r.mu.Lock()
	prev := r.tail
	done := make(chan struct{})
	r.tail = done
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(done)

		turn, ok := r.build(ctx, m)

		select {
		case <-prev:
		case <-ctx.Done():
			return
		}
		if !ok || ctx.Err() != nil {
			return
		}
		if r.host.Session().Key != sessionKey {
			L_debug("inbound: session changed before delivery, dropping", "session", sessionKey)
			return
		}
		r.deliver(ctx, m, turn)
	}()
}

// Wait blocks until every accepted message has been delivered or dropped.
func (r *Router) Wait() {
	r.wg.Wait()
}

// accept applies the ignore rules and returns the owning session.
func (r *Router) accept(m discord.IncomingMessage) (string, bool) {
	if m.AuthorID == "" || m.AuthorID == r.client.BotID() {
		return "", false
	}
	sessionKey, ok := r.state.SessionForThread(m.ChannelID)
	if !ok {
		// not a thread we created, or not a thread at all
		return "", false
	}
	if current := r.host.Session().Key; sessionKey != current {
		L_debug("inbound: message for inactive session ignored", "thread", m.ChannelID, "session", sessionKey)
		return "", false
	}
	return sessionKey, true
}

// build classifies the message: voice, then images, then text.
func (r *Router) build(ctx context.Context, m discord.IncomingMessage) (host.Turn, bool) {
	if a, ok := voiceAttachment(m); ok {
		return r.buildVoice(ctx, m, a)
	}
	if imgs := imageAttachments(m); len(imgs) > 0 {
		return r.buildImages(ctx, m, imgs)
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return host.Turn{}, false
	}
	return host.TextTurn(m.Content), true
}

func (r *Router) buildVoice(ctx context.Context, m discord.IncomingMessage, a discord.Attachment) (host.Turn, bool) {
	if r.voice == nil {
		r.reply(ctx, m, "⚠️ Voice messages are not enabled (no speech model configured).")
		return host.Turn{}, false
	}

	L_info("inbound: transcribing voice message", "thread", m.ChannelID, "file", a.Filename)
	start := r.now()
	text, err := r.voice.Transcribe(ctx, a.URL, a.Filename)
	if err != nil {
		L_warn("inbound: transcription failed", "thread", m.ChannelID, "error", err)
		r.reply(ctx, m, "⚠️ "+transcriptionError(err))
		return host.Turn{}, false
	}
	L_debug("inbound: transcribed", "chars", len(text), "took", r.now().Sub(start))

	r.reply(ctx, m, VoiceEchoPrefix+text)
	return host.TextTurn(text), true
}

func transcriptionError(err error) string {
	switch {
	case errors.Is(err, stt.ErrNoSpeech):
		return "Couldn't hear any speech in that voice message."
	case errors.Is(err, stt.ErrModelUnavailable):
		return "Voice transcription is unavailable: " + err.Error()
	case errors.Is(err, context.Canceled):
		return "Voice transcription was cancelled."
	default:
		return "Couldn't transcribe that voice message."
	}
}

func (r *Router) buildImages(ctx context.Context, m discord.IncomingMessage, atts []discord.Attachment) (host.Turn, bool) {
	var parts []host.Part
	if text := strings.TrimSpace(m.Content); text != "" {
		parts = append(parts, host.Part{Type: host.PartText, Text: m.Content})
	} else {
		parts = append(parts, host.Part{Type: host.PartText, Text: ImageCaption})
	}

	images := 0
	for _, a := range atts {
		img, err := r.images.FetchImage(ctx, a.URL)
		if err != nil {
			L_warn("inbound: skipping image attachment", "file", a.Filename, "error", err)
			continue
		}
		parts = append(parts, host.Part{Type: host.PartImage, Data: img.Base64(), MimeType: img.MimeType})
		images++
	}
	if images == 0 {
		L_debug("inbound: no image attachment could be used, dropping message", "thread", m.ChannelID)
		return host.Turn{}, false
	}
	L_debug("inbound: image turn", "images", images)
	return host.Turn{Parts: parts}, true
}

// deliver hands the turn over. An idle agent is marked busy here rather than
// on its turn-start event, so a message arriving in between is queued as a
// follow-up instead of racing this one.
func (r *Router) deliver(ctx context.Context, m discord.IncomingMessage, turn host.Turn) {
	mode := host.FollowUp
	if r.state.MarkBusy(r.now()) {
		mode = host.Immediate
	}
	if err := r.host.SendUserMessage(ctx, turn, mode); err != nil {
		if mode == host.Immediate {
			r.state.SetBusy(false, time.Time{})
		}
		L_error("inbound: failed to deliver turn", "thread", m.ChannelID, "delivery", mode, "error", err)
		r.reply(ctx, m, fmt.Sprintf("⚠️ Couldn't pass that on to the agent: %v", err))
		return
	}
	L_info("inbound: delivered", "thread", m.ChannelID, "delivery", mode, "parts", len(turn.Parts))
}

func (r *Router) reply(ctx context.Context, m discord.IncomingMessage, text string) {
	msg := discord.Message{Content: discord.Truncate(text, discord.MaxMessageLength), ReplyTo: m.ID}
	if _, err := r.client.SendMessage(ctx, m.ChannelID, msg); err != nil {
		L_warn("inbound: reply failed", "thread", m.ChannelID, "error", err)
	}
}

// voiceAttachment returns the audio attachment of a voice message, or of any
// message whose attachment is audio.
func voiceAttachment(m discord.IncomingMessage) (discord.Attachment, bool) {
	for _, a := range m.Attachments {
		if media.IsAudioMIME(a.ContentType) {
			return a, true
		}
	}
	if m.Voice && len(m.Attachments) > 0 {
		return m.Attachments[0], true
	}
	return discord.Attachment{}, false
}

func imageAttachments(m discord.IncomingMessage) []discord.Attachment {
	var out []discord.Attachment
	for _, a := range m.Attachments {
		if media.IsImageMIME(a.ContentType) {
			out = append(out, a)
		}
	}
	return out
}
