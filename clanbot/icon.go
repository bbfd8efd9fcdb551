package clanbot

import (
	"context"
	"encoding/base64"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"io"
	"net/http"
	"strings"
)

const (
	msgIconMissing  = "No image was sent. Press the icon button in the menu to try again."
	msgIconFormat   = "Invalid file format!"
	msgIconTooLarge = "The image is too large! Upload one under %dKB."
)

var allowedIconTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// iconFetcher downloads and validates role icon images submitted as
// message attachments
type iconFetcher struct {
	client   *http.Client
	maxBytes int64
}

func newIconFetcher(client *http.Client, maxBytes int64) *iconFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &iconFetcher{client: client, maxBytes: maxBytes}
}

func (f *iconFetcher) tooLarge() error {
	return validationError("fetch icon", msgIconTooLarge, f.maxBytes/1024)
}

// check validates attachment metadata before anything is downloaded
func (f *iconFetcher) check(attachments []*discordgo.MessageAttachment) (
	*discordgo.MessageAttachment,
	error,
) {
	if len(attachments) == 0 || attachments[0] == nil {
		return nil, validationError("fetch icon", msgIconMissing)
	}
	a := attachments[0]
	contentType, _, _ := strings.Cut(a.ContentType, ";")
	if !strings.HasPrefix(strings.TrimSpace(contentType), "image/") {
		return nil, validationError("fetch icon", msgIconFormat)
	}
	if int64(a.Size) > f.maxBytes {
		return nil, f.tooLarge()
	}
	return a, nil
}

// Fetch downloads the first attachment and returns it as a data URI,
// which is the form discord accepts for role icons. The declared
// metadata is checked first, then the downloaded bytes are checked
// again, since attachment metadata is client supplied.
func (f *iconFetcher) Fetch(
	ctx context.Context,
	attachments []*discordgo.MessageAttachment,
) (string, error) {
	a, err := f.check(attachments)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return "", externalError("fetch icon", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return "", externalError("fetch icon", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", externalError(
			"fetch icon",
			fmt.Errorf("unexpected status fetching attachment: %s", resp.Status),
		)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return "", externalError("fetch icon", err)
	}
	if int64(len(data)) > f.maxBytes {
		return "", f.tooLarge()
	}

	contentType := http.DetectContentType(data)
	if !allowedIconTypes[contentType] {
		return "", validationError("fetch icon", msgIconFormat)
	}
	return fmt.Sprintf(
		"data:%s;base64,%s",
		contentType,
		base64.StdEncoding.EncodeToString(data),
	), nil
}
