package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lrstanley/go-ytdlp"
)

// YtdlpResolver resolves web references through yt-dlp.
type YtdlpResolver struct{}

func NewYtdlpResolver() *YtdlpResolver {
	return &YtdlpResolver{}
}

var (
	_ Resolver = (*YtdlpResolver)(nil)
	_ Searcher = (*YtdlpResolver)(nil)
)

func (r *YtdlpResolver) ResolveMetadata(ctx context.Context, ref string) (Metadata, error) {
	res, err := ytdlp.New().
		Print("%(title)s\t%(id)s\t%(duration)s\t%(thumbnail)s").
		NoPlaylist().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", ref)
	if err != nil {
		return Metadata{}, fmt.Errorf("yt-dlp metadata for %s: %w", ref, withStderr(res, err))
	}
	return parseMetadataOutput(res.Stdout)
}

func (r *YtdlpResolver) ResolveStream(ctx context.Context, ref string) (Source, error) {
	res, err := ytdlp.New().
		Print("%(url)s\t%(acodec)s\t%(ext)s").
		Format("bestaudio[acodec=opus]/bestaudio/best").
		NoPlaylist().
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "--skip-download", ref)
	if err != nil {
		return Source{}, fmt.Errorf("yt-dlp stream for %s: %w", ref, withStderr(res, err))
	}
	return parseStreamOutput(res.Stdout)
}

func (r *YtdlpResolver) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit < 1 {
		return nil, nil
	}
	res, err := ytdlp.New().
		FlatPlaylist().
		Print("%(url)s\t%(title)s\t%(duration)s").
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, "ytsearch"+strconv.Itoa(limit)+":"+query)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp search %q: %w", query, withStderr(res, err))
	}
	return parseSearchOutput(res.Stdout), nil
}

func withStderr(res *ytdlp.Result, err error) error {
	if res == nil {
		return err
	}
	msg := strings.TrimSpace(res.Stderr)
	if msg == "" {
		return err
	}
	if i := strings.LastIndexByte(msg, '\n'); i >= 0 {
		msg = msg[i+1:]
	}
	return fmt.Errorf("%w: %s", err, msg)
}

// missing reports whether yt-dlp printed a placeholder for an unknown field.
func missing(field string) bool {
	return field == "" || field == "NA" || field == "None"
}

func parseMetadataOutput(stdout string) (Metadata, error) {
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 4 {
			continue
		}
		md := Metadata{
			Title:     fields[0],
			SourceID:  fields[1],
			Duration:  ParseDuration(fields[2]),
			Thumbnail: fields[3],
		}
		if missing(md.SourceID) {
			md.SourceID = ""
		}
		if missing(md.Thumbnail) {
			md.Thumbnail = ""
		}
		if missing(md.Title) {
			md.Title = "Unknown title"
		}
		return md, nil
	}
	return Metadata{}, errors.New("failed to parse yt-dlp metadata")
}

func parseStreamOutput(stdout string) (Source, error) {
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 3 || missing(fields[0]) {
			continue
		}
		src := Source{URL: fields[0], Hint: HintTranscode}
		if fields[1] == "opus" {
			switch fields[2] {
			case "webm", "ogg", "opus":
				src.Hint = HintOpus
			}
		}
		return src, nil
	}
	return Source{}, ErrNoStream
}

func parseSearchOutput(stdout string) []SearchResult {
	var results []SearchResult
	for _, line := range strings.Split(strings.TrimSpace(stdout), "\n") {
		fields := strings.Split(line, "\t")
		if len(fields) < 3 || missing(fields[0]) {
			continue
		}
		results = append(results, SearchResult{
			URL:      fields[0],
			Title:    fields[1],
			Duration: ParseDuration(fields[2]),
		})
	}
	return results
}
