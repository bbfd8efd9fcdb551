package clanbot

import (
	"bytes"
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"strings"
	"testing"
)

func TestCustomID(t *testing.T) {
	t.Parallel()
	sessionID := "0b8f6a2c-46a3-4a7e-9d3c-3a5f1d2b7c11"
	customID := newCustomID(actionInviteAccept, sessionID)
	assert.Equal(t, fmt.Sprintf("%s:%s", actionInviteAccept, sessionID), customID)
	assert.LessOrEqual(t, len(customID), 100)

	action, id, err := decodeCustomID(customID)
	require.NoError(t, err)
	assert.Equal(t, actionInviteAccept, action)
	assert.Equal(t, sessionID, id)
}

func TestCustomID_Error(t *testing.T) {
	t.Parallel()
	for _, customID := range []string{
		"",
		"invite_accept",
		"invite_accept:",
		":session",
		"invite_accept:session:extra",
	} {
		action, id, err := decodeCustomID(customID)
		require.ErrorIs(t, err, ErrInvalidCustomID, customID)
		assert.Empty(t, action)
		assert.Empty(t, id)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name     string
		input    string
		limit    int
		expected string
	}{
		{
			name:     "shorter than limit",
			input:    "Knights",
			limit:    10,
			expected: "Knights",
		},
		{
			name:     "exactly the limit",
			input:    "Knights",
			limit:    7,
			expected: "Knights",
		},
		{
			name:     "longer than limit",
			input:    "Knights of the Round Table",
			limit:    7,
			expected: "Knights",
		},
		{
			name:     "multi-byte characters",
			input:    "Рыцари Круглого стола",
			limit:    6,
			expected: "Рыцари",
		},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				assert.Equal(t, tc.expected, truncate(tc.input, tc.limit))
			},
		)
	}
}

func TestHashTokenAndVerify(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		name  string
		token string
	}{
		{"Simple token", "token123"},
		{"Hex token", "8c6f2e0d4b1a9e7f3c5d2a8b6e4f1c0d"},
		{"Unicode token", "жетон123"},
		{"Very long token", strings.Repeat("a", 1000)},
	}

	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				hash, err := HashToken(tc.token)
				require.NoError(t, err)
				assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m="), hash)

				valid, err := VerifyToken(hash, tc.token)
				require.NoError(t, err)
				assert.True(t, valid)

				valid, err = VerifyToken(hash, tc.token+"wrong")
				require.NoError(t, err)
				assert.False(t, valid)
			},
		)
	}
}

func TestVerifyToken_InvalidHash(t *testing.T) {
	t.Parallel()
	for _, hash := range []string{
		"",
		"not-a-hash",
		"$argon2id$v=19$m=abc$salt$hash",
	} {
		valid, err := VerifyToken(hash, "token")
		assert.Error(t, err, hash)
		assert.False(t, valid)
	}
}

func TestHashToken_Uniqueness(t *testing.T) {
	t.Parallel()
	hash1, err := HashToken("sametoken")
	require.NoError(t, err)
	hash2, err := HashToken("sametoken")
	require.NoError(t, err)
	assert.NotEqual(t, hash1, hash2)
}

func TestChunkItems(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name           string
		maxRowLength   int
		items          []int
		expectedResult [][]int
	}{
		{
			name:           "exactly divisible",
			maxRowLength:   3,
			items:          []int{1, 2, 3, 4, 5, 6},
			expectedResult: [][]int{{1, 2, 3}, {4, 5, 6}},
		},
		{
			name:           "not exactly divisible",
			maxRowLength:   5,
			items:          []int{1, 2, 3, 4, 5, 6, 7},
			expectedResult: [][]int{{1, 2, 3, 4, 5}, {6, 7}},
		},
		{
			name:           "max row length greater than items",
			maxRowLength:   5,
			items:          []int{1, 2},
			expectedResult: [][]int{{1, 2}},
		},
		{
			name:           "no items",
			maxRowLength:   5,
			items:          nil,
			expectedResult: nil,
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				assert.Equal(t, tt.expectedResult, chunkItems(tt.maxRowLength, tt.items...))
			},
		)
	}
}

func TestGenerateRandomHexString(t *testing.T) {
	t.Parallel()
	s, err := generateRandomHexString(32)
	require.NoError(t, err)
	assert.Len(t, s, 32)

	s, err = generateRandomHexString(7)
	require.NoError(t, err)
	assert.Len(t, s, 8)
}

func TestStructToSlogValue_Redacts(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	cfg.Discord.Token = "super-secret-token"
	cfg.Discord.ApplicationID = testApplicationID

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	logger.Info("config", "config", cfg)

	out := buf.String()
	assert.NotContains(t, out, "super-secret-token")
	assert.Contains(t, out, "[redacted]")
	assert.Contains(t, out, testApplicationID)
}

func TestContextLogger(t *testing.T) {
	t.Parallel()
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := WithLogger(context.Background(), logger)
	got, ok := ContextLogger(ctx)
	require.True(t, ok)
	assert.Same(t, logger, got)

	fallback := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, fallback, contextLoggerOr(context.Background(), fallback))
	assert.Same(t, logger, contextLoggerOr(ctx, fallback))
}

func TestModalTextValue(t *testing.T) {
	t.Parallel()
	data := discordgo.ModalSubmitInteractionData{
		CustomID: newCustomID(actionCreateSubmit, "session"),
		Components: []discordgo.MessageComponent{
			&discordgo.ActionsRow{
				Components: []discordgo.MessageComponent{
					&discordgo.TextInput{CustomID: inputClanName, Value: "  Knights "},
				},
			},
		},
	}
	assert.Equal(t, "Knights", modalTextValue(data, inputClanName))
	assert.Empty(t, modalTextValue(data, inputClanColor))
}

func TestOptionString(t *testing.T) {
	t.Parallel()
	data := discordgo.ApplicationCommandInteractionData{
		Name: CommandClanAdmin,
		Options: []*discordgo.ApplicationCommandInteractionDataOption{
			{
				Name: subcommandAssign,
				Type: discordgo.ApplicationCommandOptionSubCommandGroup,
				Options: []*discordgo.ApplicationCommandInteractionDataOption{
					{
						Name: subcommandRoles,
						Type: discordgo.ApplicationCommandOptionSubCommand,
						Options: []*discordgo.ApplicationCommandInteractionDataOption{
							{
								Name:  optionClanName,
								Type:  discordgo.ApplicationCommandOptionString,
								Value: "Knights",
							},
							userOption(optionMember, testMemberID),
						},
					},
				},
			},
		},
	}
	path, options := commandOptions(data)
	assert.Equal(t, []string{subcommandAssign, subcommandRoles}, path)
	assert.Equal(t, "Knights", optionString(options, optionClanName))
	assert.Equal(t, testMemberID, optionString(options, optionMember))
	assert.Empty(t, optionString(options, optionRole))
}
