package clanbot

import (
	"bytes"
	"context"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
)

func TestInteractionTargets(t *testing.T) {
	t.Parallel()

	assert.Nil(t, interactionTargets(nil))
	assert.Nil(
		t,
		interactionTargets(slashCommand(testMember(testOwnerID), CommandClan, subcommandMenu)),
	)

	kick := slashCommand(
		testMember(testOwnerID, testSupporter),
		CommandClan,
		subcommandKick,
		userOption(optionMember, testMemberID),
	)
	attrs := interactionTargets(kick)
	require.Len(t, attrs, 1)
	group, ok := attrs[0].(slog.Attr)
	require.True(t, ok)
	assert.Equal(t, "target", group.Key)
	assert.Equal(t, slog.KindGroup, group.Value.Kind())
	members := group.Value.Group()
	require.Len(t, members, 1)
	assert.Equal(t, optionMember, members[0].Key)
	assert.Equal(t, testMemberID, members[0].Value.String())

	press := componentPress(
		testMember(testMemberID),
		testGuildID,
		newCustomID(actionLeavePick, "session"),
		"200000000000000002",
	)
	attrs = interactionTargets(press)
	require.Len(t, attrs, 1)
	group = attrs[0].(slog.Attr)
	require.Len(t, group.Value.Group(), 2)
	assert.Equal(t, "custom_id", group.Value.Group()[0].Key)
	assert.Equal(t, "values", group.Value.Group()[1].Key)
}

func TestReportError_LogsTargets(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))
	bot := &ClanBot{}

	kick := slashCommand(
		testMember(testOwnerID, testSupporter),
		CommandClan,
		subcommandKick,
		userOption(optionMember, testMemberID),
	)

	bot.reportError(
		ctx,
		"kick member",
		preconditionError("kick member", msgTargetNotInClan),
		interactionTargets(kick)...,
	)
	assert.Empty(t, buf.String())

	bot.reportError(
		ctx,
		"kick member",
		externalError("kick member", errors.New("HTTP 500")),
		interactionTargets(kick)...,
	)
	out := buf.String()
	assert.Contains(t, out, "operation failed")
	assert.Contains(t, out, "target.member="+testMemberID)
}
