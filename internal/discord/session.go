package discord

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// voiceMessageFlag marks a Discord voice message (IS_VOICE_MESSAGE).
const voiceMessageFlag discordgo.MessageFlags = 1 << 13

// Intents the bridge needs: guild messages with content, and reactions.
const intents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsMessageContent |
	discordgo.IntentsGuildMessageReactions

// api is the subset of *discordgo.Session the gateway calls.
type api interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()

	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	Channel(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelEdit(channelID string, data *discordgo.ChannelEdit, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelDelete(channelID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ForumThreadStartComplex(channelID string, threadData *discordgo.ThreadStart, messageData *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
}

// dialFunc creates an unopened session for a bot token.
type dialFunc func(token string) (api, error)

func dialDiscordgo(token string) (api, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	s.Identify.Intents = intents
	// Deliver events in gateway order; handlers must not block.
	s.SyncEvents = true
	s.ShouldReconnectOnError = true
	return s, nil
}

// isNotFound reports whether a REST error means the channel is gone or
// hidden from the bot.
func isNotFound(err error) bool {
	var rerr *discordgo.RESTError
	if !errors.As(err, &rerr) {
		return false
	}
	if rerr.Message != nil {
		switch rerr.Message.Code {
		case discordgo.ErrCodeUnknownChannel, discordgo.ErrCodeMissingAccess:
			return true
		}
	}
	if rerr.Response != nil {
		switch rerr.Response.StatusCode {
		case http.StatusNotFound, http.StatusForbidden:
			return true
		}
	}
	return false
}

func toMessageSend(m Message) *discordgo.MessageSend {
	send := &discordgo.MessageSend{
		Content:         Truncate(m.Content, MaxMessageLength),
		AllowedMentions: &discordgo.MessageAllowedMentions{},
	}
	if m.Embed != nil {
		send.Embeds = []*discordgo.MessageEmbed{toEmbed(m.Embed)}
	}
	for _, f := range m.Files {
		send.Files = append(send.Files, &discordgo.File{
			Name:        f.Name,
			ContentType: f.ContentType,
			Reader:      bytes.NewReader(f.Data),
		})
	}
	if m.ReplyTo != "" {
		send.Reference = &discordgo.MessageReference{MessageID: m.ReplyTo}
	}
	return send
}

func toEmbed(e *Embed) *discordgo.MessageEmbed {
	out := &discordgo.MessageEmbed{
		Title:       Truncate(e.Title, MaxEmbedTitle),
		Description: Truncate(e.Description, MaxEmbedDescription),
		Color:       e.Color,
	}
	for _, f := range e.Fields {
		out.Fields = append(out.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}
	if e.Footer != "" {
		out.Footer = &discordgo.MessageEmbedFooter{Text: e.Footer}
	}
	return out
}

func toThread(ch *discordgo.Channel) *Thread {
	t := &Thread{ID: ch.ID, Name: ch.Name, ParentID: ch.ParentID}
	if ch.ThreadMetadata != nil {
		t.Archived = ch.ThreadMetadata.Archived
	}
	return t
}

func toIncoming(m *discordgo.Message) IncomingMessage {
	in := IncomingMessage{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Voice:     m.Flags&voiceMessageFlag != 0,
	}
	if m.Author != nil {
		in.AuthorID = m.Author.ID
		in.AuthorBot = m.Author.Bot
	}
	for _, a := range m.Attachments {
		if a == nil {
			continue
		}
		in.Attachments = append(in.Attachments, Attachment{
			URL:         a.URL,
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Size:        a.Size,
		})
	}
	return in
}
