package media

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glizzus/alfira/internal/datalayer"
)

// BlobScheme prefixes references to objects uploaded into blob storage.
const BlobScheme = "s3://"

// Metadata keys written on upload and read back by BlobResolver.
const (
	MetaTitle    = "Title"
	MetaDuration = "Duration"
)

// BlobResolver resolves s3:// references to presigned GET URLs.
type BlobResolver struct {
	locator datalayer.BlobLocator
	expiry  time.Duration
}

func NewBlobResolver(locator datalayer.BlobLocator, expiry time.Duration) *BlobResolver {
	return &BlobResolver{locator: locator, expiry: expiry}
}

var _ Resolver = (*BlobResolver)(nil)

func BlobKey(ref string) (string, error) {
	key, ok := strings.CutPrefix(ref, BlobScheme)
	if !ok || key == "" {
		return "", fmt.Errorf("not a blob reference: %q", ref)
	}
	return key, nil
}

func (r *BlobResolver) ResolveMetadata(ctx context.Context, ref string) (Metadata, error) {
	key, err := BlobKey(ref)
	if err != nil {
		return Metadata{}, err
	}
	info, err := r.locator.Stat(ctx, key)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}

	md := Metadata{
		Title:    info.Metadata[MetaTitle],
		SourceID: key,
		Duration: ParseDuration(info.Metadata[MetaDuration]),
	}
	if md.Title == "" {
		md.Title = key
	}
	return md, nil
}

func (r *BlobResolver) ResolveStream(ctx context.Context, ref string) (Source, error) {
	key, err := BlobKey(ref)
	if err != nil {
		return Source{}, err
	}
	info, err := r.locator.Stat(ctx, key)
	if err != nil {
		return Source{}, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	if info.Size == 0 {
		return Source{}, fmt.Errorf("%s: %w", key, ErrNoStream)
	}

	u, err := r.locator.PresignGet(ctx, key, r.expiry)
	if err != nil {
		return Source{}, fmt.Errorf("failed to presign %s: %w", key, err)
	}

	src := Source{URL: u.String(), Hint: HintTranscode}
	if info.ContentType == "audio/ogg" || info.ContentType == "audio/opus" {
		src.Hint = HintOpus
	}
	return src, nil
}
