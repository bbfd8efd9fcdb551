package clanbot

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"crypto/tls"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"golang.org/x/crypto/argon2"
	"log/slog"
	"reflect"
	"strings"
	"unicode/utf8"
)

const (
	loggerContextKey contextKey = "logger"
	customIDFormat              = "%s:%s"
)

var (
	argon2Time    uint32 = 1
	argon2Memory  uint32 = 64 * 1024
	argon2Threads uint8  = 4
	argon2KeyLen  uint32 = 32
)

var ErrInvalidCustomID = errors.New("invalid custom_id format")

type contextKey string

// structToSlogValue converts a struct to a slog.Value, using the struct's
// JSON tag as the key for each field, if set.
// If the `log` tag is set, the value specified will override the
// field's actual value. Ex: `log:"REDACTED"` will cause "REDACTED" to
// be shown as the field's value.
func structToSlogValue(v any) slog.Value {
	typ := reflect.TypeOf(v)
	if typ == nil {
		return slog.AnyValue(nil)
	}
	val := reflect.ValueOf(v)

	if typ.Kind() == reflect.Ptr {
		if val.IsNil() {
			return slog.AnyValue(nil)
		}
		val = val.Elem()
		typ = typ.Elem()
	}

	if typ.Kind() != reflect.Struct {
		return slog.AnyValue(v)
	}

	var groupAttrs []slog.Attr

	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		jsonTag, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if jsonTag == "" {
			jsonTag = field.Name
		}

		fv := val.Field(i)
		if !fv.CanInterface() {
			continue
		}

		if logTag := field.Tag.Get("log"); logTag != "" {
			groupAttrs = append(
				groupAttrs,
				slog.Attr{Key: jsonTag, Value: slog.StringValue(logTag)},
			)
			continue
		}

		switch fv.Kind() {
		case reflect.Ptr:
			if fv.IsNil() {
				continue
			}
		case reflect.Map, reflect.Slice:
			if fv.IsNil() || fv.Len() == 0 {
				continue
			}
		case reflect.String:
			if fv.Len() == 0 {
				continue
			}
		}

		groupAttrs = append(
			groupAttrs,
			slog.Attr{Key: jsonTag, Value: structToSlogValue(fv.Interface())},
		)
	}
	return slog.GroupValue(groupAttrs...)
}

// WithLogger returns a new context with the given logger added.
func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	if logger == nil {
		logger = slog.Default()
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// ContextLogger returns a logger from the given context if one
// is present, and a boolean indicating whether a logger was found.
func ContextLogger(ctx context.Context) (*slog.Logger, bool) {
	logger, ok := ctx.Value(loggerContextKey).(*slog.Logger)
	return logger, ok
}

// contextLoggerOr returns the context logger, or fallback (or the default
// logger) if the context doesn't carry one.
func contextLoggerOr(ctx context.Context, fallback *slog.Logger) *slog.Logger {
	if logger, ok := ContextLogger(ctx); ok && logger != nil {
		return logger
	}
	if fallback != nil {
		return fallback
	}
	return slog.Default()
}

func interactionLogAttrs(i discordgo.InteractionCreate) []any {
	logAttrs := []any{
		"id", i.ID,
		"type", i.Type.String(),
	}
	if i.ChannelID != "" {
		logAttrs = append(logAttrs, "channel_id", i.ChannelID)
	}
	if i.GuildID != "" {
		logAttrs = append(logAttrs, "guild_id", i.GuildID)
	}
	if i.AppID != "" {
		logAttrs = append(logAttrs, "app_id", i.AppID)
	}
	return logAttrs
}

func userLogAttrs(u discordgo.User) []any {
	return []any{
		"id", u.ID,
		"username", u.Username,
		"global_name", u.GlobalName,
	}
}

// getDiscordUser returns the [discordgo.User] associated with the interaction.
// Users don't always appear in the same place in the interaction object, so
// this checks known areas.
func getDiscordUser(i *discordgo.InteractionCreate) *discordgo.User {
	u := i.User
	if u == nil && i.Member != nil {
		u = i.Member.User
	}
	return u
}

// commandOptions walks nested subcommand groups/subcommands of an
// application command, returning the names of the subcommands
// traversed (ex: ["assign", "roles"]) and the leaf options keyed by name.
func commandOptions(
	data discordgo.ApplicationCommandInteractionData,
) ([]string, map[string]*discordgo.ApplicationCommandInteractionDataOption) {
	var path []string
	options := data.Options
	for len(options) == 1 {
		opt := options[0]
		if opt.Type != discordgo.ApplicationCommandOptionSubCommand &&
			opt.Type != discordgo.ApplicationCommandOptionSubCommandGroup {
			break
		}
		path = append(path, opt.Name)
		options = opt.Options
	}

	optionMap := make(
		map[string]*discordgo.ApplicationCommandInteractionDataOption,
		len(options),
	)
	for _, option := range options {
		optionMap[option.Name] = option
	}
	return path, optionMap
}

// optionString returns the string value of the named option, or
// an empty string if the option wasn't provided.
func optionString(
	options map[string]*discordgo.ApplicationCommandInteractionDataOption,
	name string,
) string {
	opt, ok := options[name]
	if !ok || opt == nil {
		return ""
	}
	switch opt.Type {
	case discordgo.ApplicationCommandOptionString:
		return opt.StringValue()
	case discordgo.ApplicationCommandOptionUser,
		discordgo.ApplicationCommandOptionRole,
		discordgo.ApplicationCommandOptionChannel,
		discordgo.ApplicationCommandOptionMentionable:
		if s, isString := opt.Value.(string); isString {
			return s
		}
	}
	return fmt.Sprintf("%v", opt.Value)
}

// newCustomID builds a message component custom_id from an action and
// a session ID
func newCustomID(action string, sessionID string) string {
	return fmt.Sprintf(customIDFormat, action, sessionID)
}

// decodeCustomID splits a custom_id built by newCustomID
func decodeCustomID(customID string) (action string, sessionID string, err error) {
	parts := strings.Split(customID, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidCustomID, customID)
	}
	return parts[0], parts[1], nil
}

// modalTextValue returns the value of the text input with the given
// custom_id in a submitted modal
func modalTextValue(data discordgo.ModalSubmitInteractionData, customID string) string {
	for _, row := range data.Components {
		var components []discordgo.MessageComponent
		switch r := row.(type) {
		case *discordgo.ActionsRow:
			components = r.Components
		case discordgo.ActionsRow:
			components = r.Components
		default:
			continue
		}
		for _, c := range components {
			switch input := c.(type) {
			case *discordgo.TextInput:
				if input.CustomID == customID {
					return strings.TrimSpace(input.Value)
				}
			case discordgo.TextInput:
				if input.CustomID == customID {
					return strings.TrimSpace(input.Value)
				}
			}
		}
	}
	return ""
}

// truncate shortens the input string to a specified number of characters.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// chunkItems splits the input items into chunks of maxRowLength
func chunkItems[T any](maxRowLength int, items ...T) [][]T {
	var result [][]T
	for len(items) > 0 {
		end := maxRowLength
		if len(items) < maxRowLength {
			end = len(items)
		}
		result = append(result, items[:end])
		items = items[end:]
	}
	return result
}

func stringPointerValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func stringPointer(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func generateRandomHexString(length int) (string, error) {
	if length%2 != 0 {
		length++
	}
	bytes := make([]byte, length/2)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func tlsConfig(certfile string, keyfile string, minVersion uint16) (
	*tls.Config,
	error,
) {
	cert, err := tls.LoadX509KeyPair(certfile, keyfile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   minVersion,
		ClientAuth:   tls.NoClientCert,
	}, nil
}

// HashToken securely hashes an API token using Argon2id
func HashToken(token string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	hash := argon2.IDKey(
		[]byte(token),
		salt,
		argon2Time,
		argon2Memory,
		argon2Threads,
		argon2KeyLen,
	)

	// Format: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
	return fmt.Sprintf(
		"$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		argon2Memory,
		argon2Time,
		argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyToken checks if the provided token matches the stored hash
func VerifyToken(storedHash, token string) (bool, error) {
	parts := strings.Split(storedHash, "$")
	if len(parts) != 6 {
		return false, errors.New("invalid hash format")
	}

	var memory, argonTime, threads int
	_, err := fmt.Sscanf(
		parts[3],
		"m=%d,t=%d,p=%d",
		&memory,
		&argonTime,
		&threads,
	)
	if err != nil {
		return false, errors.New("invalid hash format")
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, errors.New("invalid salt")
	}

	decodedHash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, errors.New("invalid hash")
	}

	hashToCompare := argon2.IDKey(
		[]byte(token),
		salt,
		uint32(argonTime),
		uint32(memory),
		uint8(threads),
		uint32(len(decodedHash)),
	)

	return subtle.ConstantTimeCompare(decodedHash, hashToCompare) == 1, nil
}
