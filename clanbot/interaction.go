package clanbot

import (
	"context"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
)

// InteractionHandler responds to a single Discord interaction
type InteractionHandler interface {
	// Respond sends the initial response to the interaction
	Respond(ctx context.Context, r *discordgo.InteractionResponse) error

	// GetResponse retrieves the current response for the interaction
	GetResponse(ctx context.Context) (*discordgo.Message, error)

	// Edit modifies the interaction's original response
	Edit(
		ctx context.Context,
		e *discordgo.WebhookEdit,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	// Followup sends an additional message after the initial response
	Followup(ctx context.Context, p *discordgo.WebhookParams) (*discordgo.Message, error)

	// Delete removes the interaction's original response
	Delete(ctx context.Context, opts ...discordgo.RequestOption)

	// GetInteraction returns the original InteractionCreate event
	GetInteraction() *discordgo.InteractionCreate

	Logger() *slog.Logger
}

// GatewayHandler implements [InteractionHandler] for interactions received
// via the discord websocket gateway.
type GatewayHandler struct {
	session     DiscordSessionHandler
	interaction *discordgo.InteractionCreate
	logger      *slog.Logger
}

func (w GatewayHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	err := w.session.InteractionRespond(w.interaction.Interaction, response)
	if err != nil {
		w.logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "responded to interaction", "response_type", response.Type)
	}
	return err
}

func (w GatewayHandler) GetResponse(ctx context.Context) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponse(w.interaction.Interaction)
	if err != nil {
		w.logger.ErrorContext(ctx, "error getting interaction response", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) GetInteraction() *discordgo.InteractionCreate {
	return w.interaction
}

func (w GatewayHandler) Edit(
	ctx context.Context,
	wh *discordgo.WebhookEdit,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := w.session.InteractionResponseEdit(w.interaction.Interaction, wh, opts...)
	if err != nil {
		w.logger.ErrorContext(ctx, "error editing interaction response", tint.Err(err))
	} else {
		w.logger.DebugContext(ctx, "edited interaction")
	}
	return msg, err
}

func (w GatewayHandler) Followup(
	ctx context.Context,
	p *discordgo.WebhookParams,
) (*discordgo.Message, error) {
	msg, err := w.session.FollowupMessageCreate(w.interaction.Interaction, true, p)
	if err != nil {
		w.logger.ErrorContext(ctx, "error sending followup", tint.Err(err))
	}
	return msg, err
}

func (w GatewayHandler) Delete(ctx context.Context, opts ...discordgo.RequestOption) {
	err := w.session.InteractionResponseDelete(w.interaction.Interaction, opts...)
	if err != nil {
		w.logger.ErrorContext(ctx, "error deleting interaction response", tint.Err(err))
	}
}

func (w GatewayHandler) Logger() *slog.Logger {
	return w.logger
}

// handleInteraction logs the interaction, then routes it by type.
// Slash commands and components are acknowledged within the handler for
// their command, since some (modals) must be the initial response.
func (b *ClanBot) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(ctx, "no user found in interaction", "interaction", structToSlogValue(i))
		return
	}

	logger = logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction", slog.Group("user", userLogAttrs(*discordUser)...))
	b.metrics.observeInteraction(i.Type.String())

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	interactionLog, err := newInteractionLog(i, discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	} else if b.writeDB != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, createErr := b.writeDB.Create(context.WithoutCancel(ctx), interactionLog); createErr != nil {
				logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
			}
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	defer func() {
		if rc := recover(); rc != nil {
			b.handleRecover(ctx, rc)
			b.metrics.observeFailure("panic")
			if respondErr := handler.Respond(
				ctx,
				ephemeralResponse(DefaultDiscordErrorMessage),
			); respondErr != nil {
				_, _ = handler.Edit(ctx, messageEdit(DefaultDiscordErrorMessage, nil, nil))
			}
		}
	}()

	switch i.Type {
	case discordgo.InteractionPing:
		_ = handler.Respond(ctx, &discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})
	case discordgo.InteractionApplicationCommand:
		data := i.ApplicationCommandData()
		switch data.Name {
		case CommandClan:
			b.handleClanCommand(ctx, handler)
		case CommandClanAdmin:
			b.handleAdminCommand(ctx, handler)
		default:
			logger.WarnContext(ctx, "unknown command", "command", data.Name)
			_ = handler.Respond(ctx, ephemeralResponse(DefaultDiscordErrorMessage))
		}
	case discordgo.InteractionMessageComponent:
		b.handleComponent(ctx, handler, i.MessageComponentData().CustomID)
	case discordgo.InteractionModalSubmit:
		b.handleModalSubmit(ctx, handler, i.ModalSubmitData())
	default:
		logger.WarnContext(ctx, "unhandled interaction type")
	}
}

// handleRecover logs a recovered panic with its stack trace
func (b *ClanBot) handleRecover(ctx context.Context, p any) {
	logger := contextLoggerOr(ctx, b.logger)
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic", p,
		"stack", string(debug.Stack()),
	)
}

// reportError logs and counts errors which aren't the user's to fix.
// args are added to the log record, generally from interactionTargets.
func (b *ClanBot) reportError(ctx context.Context, op string, err error, args ...any) {
	if err == nil || isUserError(err) {
		return
	}
	kind := errorKind(err)
	if kind != "partial_transfer" {
		b.metrics.observeFailure(kind)
	}
	logger := contextLoggerOr(ctx, b.logger)
	level := slog.LevelError
	if kind == "hierarchy" || kind == "stale" {
		level = slog.LevelWarn
	}
	logger.Log(
		ctx,
		level,
		"operation failed",
		append([]any{"op", op, "kind", kind, tint.Err(err)}, args...)...,
	)
}

// interactionTargets returns the members, roles and channels an
// interaction was aimed at, as a "target" log group
func interactionTargets(i *discordgo.InteractionCreate) []any {
	if i == nil || i.Interaction == nil {
		return nil
	}
	var attrs []any
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		_, options := commandOptions(i.ApplicationCommandData())
		names := make([]string, 0, len(options))
		for name := range options {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			switch opt := options[name]; opt.Type {
			case discordgo.ApplicationCommandOptionUser,
				discordgo.ApplicationCommandOptionRole,
				discordgo.ApplicationCommandOptionChannel,
				discordgo.ApplicationCommandOptionMentionable:
				attrs = append(attrs, slog.String(name, fmt.Sprint(opt.Value)))
			}
		}
	case discordgo.InteractionMessageComponent:
		data := i.MessageComponentData()
		attrs = append(attrs, slog.String("custom_id", data.CustomID))
		if len(data.Values) > 0 {
			attrs = append(attrs, slog.Any("values", data.Values))
		}
	case discordgo.InteractionModalSubmit:
		attrs = append(attrs, slog.String("custom_id", i.ModalSubmitData().CustomID))
	}
	if len(attrs) == 0 {
		return nil
	}
	return []any{slog.Group("target", attrs...)}
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrPartialTransfer):
		return "partial_transfer"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrPrecondition):
		return "precondition"
	case errors.Is(err, ErrHierarchyTooLow):
		return "hierarchy"
	case errors.Is(err, ErrResourceStale):
		return "stale"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrStorage):
		return "storage"
	case errors.Is(err, ErrExternalOperation):
		return "external"
	default:
		return "unknown"
	}
}

func ephemeralResponse(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// deferredResponse acknowledges a slash command, showing a loading state
// until the response is edited
func deferredResponse(ephemeral bool) *discordgo.InteractionResponse {
	r := &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{},
	}
	if ephemeral {
		r.Data.Flags = discordgo.MessageFlagsEphemeral
	}
	return r
}

// deferredUpdate acknowledges a component or modal submit, keeping the
// message it came from as-is until the response is edited
func deferredUpdate() *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredMessageUpdate}
}

// messageEdit replaces the content, embeds and components of the
// interaction's response message
func messageEdit(
	content string,
	embeds []*discordgo.MessageEmbed,
	components []discordgo.MessageComponent,
) *discordgo.WebhookEdit {
	if embeds == nil {
		embeds = []*discordgo.MessageEmbed{}
	}
	if components == nil {
		components = []discordgo.MessageComponent{}
	}
	return &discordgo.WebhookEdit{
		Content:    &content,
		Embeds:     &embeds,
		Components: &components,
	}
}

// replyError reports err, then replaces the interaction's response with
// the user-facing message for it
func (b *ClanBot) replyError(ctx context.Context, handler InteractionHandler, op string, err error) {
	b.reportError(ctx, op, err, interactionTargets(handler.GetInteraction())...)
	_, _ = handler.Edit(ctx, messageEdit(UserMessage(err), nil, nil))
}

// followupError reports err and sends its message as a separate
// ephemeral message, leaving the interaction's response untouched
func (b *ClanBot) followupError(ctx context.Context, handler InteractionHandler, op string, err error) {
	b.reportError(ctx, op, err, interactionTargets(handler.GetInteraction())...)
	_, _ = handler.Followup(
		ctx, &discordgo.WebhookParams{
			Content: UserMessage(err),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	)
}

// disableOnEnd returns a SessionEndFunc which disables the components of
// the handler's response message once the session expires or is
// cancelled. Completed sessions are left to their completion handler.
func (b *ClanBot) disableOnEnd(ctx context.Context, handler InteractionHandler) SessionEndFunc {
	ctx = context.WithoutCancel(ctx)
	return func(s *Session, state SessionState) {
		if state == SessionCompleted {
			return
		}
		msg, err := handler.GetResponse(ctx)
		if err != nil || msg == nil {
			return
		}
		components := disableComponents(msg.Components)
		content := msg.Content
		if state == SessionExpired {
			content = msgTimeout
		}
		_, _ = handler.Edit(
			ctx, &discordgo.WebhookEdit{
				Content:    &content,
				Components: &components,
			},
		)
	}
}
