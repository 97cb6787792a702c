package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTurnHelpers(t *testing.T) {
	turn := Turn{Parts: []Part{
		{Type: PartText, Text: "look"},
		{Type: PartImage, Data: "AAA", MimeType: "image/png"},
		{Type: PartText, Text: "here"},
		{Type: PartImage, Data: "BBB", MimeType: "image/jpeg"},
	}}
	assert.Equal(t, "look\nhere", turn.Text())
	imgs := turn.Images()
	assert.Len(t, imgs, 2)
	assert.Equal(t, "AAA", imgs[0].Data)
	assert.Equal(t, "BBB", imgs[1].Data)

	assert.Equal(t, "hi", TextTurn("hi").Text())
}

func TestTurnEndDuration(t *testing.T) {
	start := time.Unix(100, 0)
	te := &TurnEnd{StartedAt: start, EndedAt: start.Add(20 * time.Second)}
	assert.Equal(t, 20*time.Second, te.Duration())

	assert.Zero(t, (&TurnEnd{EndedAt: start}).Duration())
	assert.Zero(t, (&TurnEnd{StartedAt: start, EndedAt: start.Add(-time.Second)}).Duration())
}

func TestLastAssistantText(t *testing.T) {
	msgs := []Message{
		{Role: "user", Text: "q"},
		{Role: "assistant", Text: "first"},
		{Role: "assistant", Text: "  "},
		{Role: "user", Text: "q2"},
	}
	assert.Equal(t, "first", LastAssistantText(msgs))
	assert.Equal(t, "", LastAssistantText(nil))
}

func TestDeliveryString(t *testing.T) {
	assert.Equal(t, "immediate", Immediate.String())
	assert.Equal(t, "follow_up", FollowUp.String())
}
