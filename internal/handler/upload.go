package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/glizzus/alfira/internal/datalayer"
	"github.com/glizzus/alfira/internal/media"
	"github.com/glizzus/alfira/internal/repository"
	"github.com/glizzus/alfira/internal/util"
)

// MaxUploadSize caps a single uploaded audio file.
const MaxUploadSize = 25 * 1024 * 1024 // 25 MB

// HTTPClient is an abstraction for making HTTP requests.
// The implementation is usually Go's stdlib http.Client.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// AudioPiper is a struct that performs the operation
// of downloading and immediately uploading.
type AudioPiper struct {
	blobStorage datalayer.BlobStorage
	httpClient  HTTPClient
}

func NewAudioPiper(blobStorage datalayer.BlobStorage, httpClient HTTPClient) *AudioPiper {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AudioPiper{blobStorage: blobStorage, httpClient: httpClient}
}

// Pipe streams sourceURL into blob storage under key, storing metadata
// alongside it.
func (a *AudioPiper) Pipe(ctx context.Context, key, sourceURL string, metadata map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	slog.Debug("downloading attachment", "url", sourceURL)
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download file: %s", resp.Status)
	}

	err = a.blobStorage.Put(ctx, key, resp.Body, datalayer.PutOptions{
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
		Metadata:    metadata,
	})
	if err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	slog.Info("stored uploaded audio", "key", key, "size", resp.ContentLength)
	return nil
}

// UploadRequest is a validated /upload command.
type UploadRequest struct {
	Attachment *discordgo.MessageAttachment
	Title      string
}

func CommandToUploadRequest(i *discordgo.InteractionCreate) (*UploadRequest, error) {
	var attachments map[string]*discordgo.MessageAttachment
	if resolved := i.ApplicationCommandData().Resolved; resolved != nil {
		attachments = resolved.Attachments
	}
	attachment, err := util.GetOne(attachments)
	if err != nil {
		return nil, userErrorf("Attach exactly one audio file.")
	}

	if attachment.Size > MaxUploadSize {
		return nil, userErrorf("That file is too large, the limit is %d MB.", MaxUploadSize/1024/1024)
	}
	contentType := attachment.ContentType
	if contentType != "" && !strings.HasPrefix(contentType, "audio/") && !strings.HasPrefix(contentType, "video/") {
		return nil, userErrorf("That does not look like an audio file.")
	}

	title := strings.TrimSpace(stringOption(i, "title"))
	if title == "" {
		title = strings.TrimSuffix(attachment.Filename, path.Ext(attachment.Filename))
	}

	return &UploadRequest{Attachment: attachment, Title: title}, nil
}

// UploadKey is where an uploaded file is stored.
func UploadKey(id, filename string) string {
	return "uploads/" + id + "/" + path.Base(filename)
}

func (c *controller) uploadFlow() *Flow {
	return &Flow{
		ID: "upload",
		Root: &Node{
			ID:      "upload",
			Matcher: isCommand("upload"),
			Handler: deferred(discordgo.InteractionResponseDeferredChannelMessageWithSource, c.upload),
		},
	}
}

func (c *controller) upload(ctx context.Context, i *discordgo.InteractionCreate, _ *FlowContext) (*discordgo.InteractionResponseData, error) {
	if c.deps.Uploads == nil {
		return nil, userErrorf("Uploads are not enabled on this bot.")
	}
	req, err := CommandToUploadRequest(i)
	if err != nil {
		return nil, err
	}
	if _, err := c.userChannel(i); err != nil {
		return nil, err
	}

	id, err := c.deps.CatalogIDs.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to generate upload id: %w", err)
	}
	key := UploadKey(id, req.Attachment.Filename)

	err = c.deps.Uploads.Pipe(ctx, key, req.Attachment.URL, map[string]string{media.MetaTitle: req.Title})
	if err != nil {
		return nil, fmt.Errorf("failed to store upload %s: %w", key, err)
	}

	track, err := c.resolveTrack(ctx, media.BlobScheme+key, interactionUser(i).ID)
	if err != nil {
		return nil, err
	}
	engine, err := c.engineFor(ctx, i)
	if err != nil {
		return nil, err
	}
	msg, err := c.enqueue(engine, i, []repository.Track{track}, false)
	if err != nil {
		return nil, err
	}
	return &discordgo.InteractionResponseData{Content: msg}, nil
}
