package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wuwenbin0122/lumina/internal/completion"
	"github.com/wuwenbin0122/lumina/internal/store"
)

func TestCreateConversationFallsBackWhenTitleGenerationFails(t *testing.T) {
	f := newFixture()
	f.gen.textFn = func(ctx context.Context, prompt string) (string, error) {
		return "", &completion.GenerationFailure{Op: completion.OpText, StatusCode: 500, Message: "Failed to get AI response. Please try again."}
	}
	list := NewConversationList(f.store, f.gen, f.notifier, nil)

	seed := "Explain quantum computing in simple terms please"
	conv, err := list.CreateConversation(context.Background(), testUser.ID, seed)
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	require.Equal(t, seed[:30]+"...", conv.Title)
	require.Equal(t, "Explain quantum computing in s...", conv.Title)

	stored, err := f.store.GetConversation(context.Background(), conv.ID)
	require.NoError(t, err)
	require.Equal(t, conv.Title, stored.Title)
}

func TestCreateConversationTitleHandling(t *testing.T) {
	cases := []struct {
		name      string
		generated string
		seed      string
		want      string
	}{
		{name: "quotes stripped", generated: `"Fox Facts"`, seed: "tell me about foxes", want: "Fox Facts"},
		{name: "single quotes stripped", generated: "'Fox Facts'\n", seed: "tell me about foxes", want: "Fox Facts"},
		{name: "empty title falls back", generated: ` "" `, seed: "short", want: "short..."},
		{name: "multibyte seed falls back by character", generated: "", seed: strings.Repeat("日", 40), want: strings.Repeat("日", 30) + "..."},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.gen.textFn = func(ctx context.Context, prompt string) (string, error) {
				return tc.generated, nil
			}
			list := NewConversationList(f.store, f.gen, nil, nil)

			conv, err := list.CreateConversation(context.Background(), testUser.ID, tc.seed)
			require.NoError(t, err)
			require.Equal(t, tc.want, conv.Title)

			require.Len(t, f.gen.textCalls, 1)
			require.Equal(t, TitlePrompt(tc.seed), f.gen.textCalls[0].Prompt)
			require.Empty(t, f.gen.textCalls[0].History)
		})
	}
}

func TestTitlePromptWording(t *testing.T) {
	require.Equal(t,
		`Generate a very short, concise title (max 5 words) for the following conversation starter: "hi there"`,
		TitlePrompt("hi there"))
}

func TestListConversationsByRecency(t *testing.T) {
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	mem := store.NewMemoryStore(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})
	list := NewConversationList(mem, nil, nil, nil)
	ctx := context.Background()

	first, err := mem.CreateConversation(ctx, testUser.ID, "first")
	require.NoError(t, err)
	second, err := mem.CreateConversation(ctx, testUser.ID, "second")
	require.NoError(t, err)
	_, err = mem.CreateConversation(ctx, "someone-else", "theirs")
	require.NoError(t, err)

	got, err := list.ListConversations(ctx, testUser.ID)
	require.NoError(t, err)
	require.Equal(t, []string{second.ID, first.ID}, conversationIDs(got))

	_, err = mem.AppendMessage(ctx, newUserMessage(first.ID, "bump"))
	require.NoError(t, err)

	got, err = list.ListConversations(ctx, testUser.ID)
	require.NoError(t, err)
	require.Equal(t, []string{first.ID, second.ID}, conversationIDs(got))
}

func TestListConversationsFailureDefaultsToEmpty(t *testing.T) {
	f := newFixture()
	f.store.convErr = errors.New("connection refused")
	list := NewConversationList(f.store, nil, f.notifier, nil)

	got, err := list.ListConversations(context.Background(), testUser.ID)
	require.Error(t, err)
	require.Equal(t, FailurePersistence, KindOf(err))
	require.NotNil(t, got)
	require.Empty(t, got)

	notices := f.notifier.Notices()
	require.Len(t, notices, 1)
	require.Equal(t, "Failed to load conversations", notices[0].Title)
}
