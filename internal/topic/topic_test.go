package topic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversation(t *testing.T) {
	assert.Equal(t, "chat/conversation/3-7", Conversation(3, 7))
	assert.Equal(t, "chat/conversation/3-7", Conversation(7, 3))
}

func TestNotification(t *testing.T) {
	assert.Equal(t, "user/7/notifications", Notification(7))
}

func TestConversation_Symmetric(t *testing.T) {
	for a := int64(1); a <= 30; a++ {
		for b := int64(1); b <= 30; b++ {
			if a == b {
				continue
			}
			require.Equal(t, Conversation(a, b), Conversation(b, a), "a=%d b=%d", a, b)
		}
	}
}

func TestConversation_Injective(t *testing.T) {
	// Ids like 1-23 and 12-3 would collide under naive concatenation.
	seen := make(map[string][2]int64)
	for a := int64(1); a <= 40; a++ {
		for b := a + 1; b <= 40; b++ {
			got := Conversation(a, b)
			if prev, ok := seen[got]; ok {
				t.Fatalf("topic %q produced by {%d,%d} and {%d,%d}", got, prev[0], prev[1], a, b)
			}
			seen[got] = [2]int64{a, b}

			n := Notification(a)
			_, clash := seen[n]
			require.False(t, clash, "notification topic %q collides with a conversation", n)
		}
	}
}

func TestParse(t *testing.T) {
	p, err := Parse(Conversation(9, 4))
	require.NoError(t, err)
	assert.Equal(t, Parsed{Kind: KindConversation, A: 4, B: 9}, p)

	p, err = Parse(Notification(12))
	require.NoError(t, err)
	assert.Equal(t, Parsed{Kind: KindNotification, A: 12}, p)

	bad := []string{
		"",
		"chat/conversation/",
		"chat/conversation/7-3",
		"chat/conversation/3-3",
		"chat/conversation/03-7",
		"chat/conversation/3-x",
		"chat/conversation/-3-7",
		"user//notifications",
		"user/0/notifications",
		"user/abc/notifications",
		"user/7",
		"other/topic",
	}
	for _, s := range bad {
		_, err := Parse(s)
		assert.ErrorIs(t, err, ErrInvalidTopic, "topic %q", s)
	}
}

func TestCanSubscribe(t *testing.T) {
	conv := Conversation(3, 7)
	assert.True(t, CanSubscribe(3, conv))
	assert.True(t, CanSubscribe(7, conv))
	assert.False(t, CanSubscribe(5, conv))

	assert.True(t, CanSubscribe(7, Notification(7)))
	assert.False(t, CanSubscribe(3, Notification(7)))

	assert.False(t, CanSubscribe(3, "chat/conversation/7-3"))
	assert.False(t, CanSubscribe(3, "anything"))
}
