package clanbot

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestIconFetcher_Check(t *testing.T) {
	t.Parallel()
	fetcher := newIconFetcher(nil, 1024)

	testCases := []struct {
		name        string
		attachments []*discordgo.MessageAttachment
		message     string
	}{
		{
			name:    "no attachments",
			message: msgIconMissing,
		},
		{
			name:        "nil attachment",
			attachments: []*discordgo.MessageAttachment{nil},
			message:     msgIconMissing,
		},
		{
			name: "not an image",
			attachments: []*discordgo.MessageAttachment{
				{ContentType: "text/plain; charset=utf-8", Size: 10},
			},
			message: msgIconFormat,
		},
		{
			name: "no content type",
			attachments: []*discordgo.MessageAttachment{
				{Size: 10},
			},
			message: msgIconFormat,
		},
		{
			name: "too large",
			attachments: []*discordgo.MessageAttachment{
				{ContentType: "image/png", Size: 2048},
			},
			message: fmt.Sprintf(msgIconTooLarge, 1),
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				_, err := fetcher.check(tc.attachments)
				require.ErrorIs(t, err, ErrValidation)
				assert.Equal(t, tc.message, UserMessage(err))
			},
		)
	}

	a, err := fetcher.check(
		[]*discordgo.MessageAttachment{
			{ContentType: "image/png", Size: 512, URL: "first"},
			{ContentType: "image/png", Size: 512, URL: "second"},
		},
	)
	require.NoError(t, err)
	assert.Equal(t, "first", a.URL)
}

func TestIconFetcher_Fetch(t *testing.T) {
	t.Parallel()
	oversized := append(append([]byte{}, testPNG...), bytes.Repeat([]byte{0}, 2048)...)

	mux := http.NewServeMux()
	mux.HandleFunc(
		"/icon.png", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(testPNG)
		},
	)
	// declared small, but the body isn't
	mux.HandleFunc(
		"/big.png", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write(oversized)
		},
	)
	// declared as an image, but the body is text
	mux.HandleFunc(
		"/fake.png", func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(strings.Repeat("not an image ", 10)))
		},
	)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	fetcher := newIconFetcher(srv.Client(), 1024)
	ctx := context.Background()
	attachment := func(path string) []*discordgo.MessageAttachment {
		return []*discordgo.MessageAttachment{
			{URL: srv.URL + path, ContentType: "image/png", Size: 100},
		}
	}

	dataURI, err := fetcher.Fetch(ctx, attachment("/icon.png"))
	require.NoError(t, err)
	prefix := "data:image/png;base64,"
	require.True(t, strings.HasPrefix(dataURI, prefix), dataURI)
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(dataURI, prefix))
	require.NoError(t, err)
	assert.Equal(t, testPNG, decoded)

	_, err = fetcher.Fetch(ctx, attachment("/big.png"))
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, fmt.Sprintf(msgIconTooLarge, 1), UserMessage(err))

	_, err = fetcher.Fetch(ctx, attachment("/fake.png"))
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, msgIconFormat, UserMessage(err))

	_, err = fetcher.Fetch(ctx, attachment("/missing.png"))
	require.ErrorIs(t, err, ErrExternalOperation)
	assert.Equal(t, DefaultDiscordErrorMessage, UserMessage(err))
}
