package sources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/kkdai/youtube/v2"
)

var unsafeFileChars = regexp.MustCompile(`[^\p{L}\p{N}\-_. ]+`)

// YouTubeNative downloads the best audio-only stream without external tools.
// The file keeps the container YouTube serves (m4a or webm).
type YouTubeNative struct {
	Client    youtube.Client
	OutputDir string
}

// NewYouTubeNative creates a native YouTube adapter writing into outputDir
func NewYouTubeNative(outputDir string) *YouTubeNative {
	return &YouTubeNative{OutputDir: outputDir}
}

// Fetch downloads the audio of the video at url.
func (y *YouTubeNative) Fetch(ctx context.Context, url string, progress ProgressFunc) (string, error) {
	video, err := y.Client.GetVideoContext(ctx, url)
	if err != nil {
		return "", fmt.Errorf("youtube lookup failed: %w", err)
	}

	format := pickAudioFormat(video.Formats)
	if format == nil {
		return "", errors.New("no audio-only format available")
	}

	stream, size, err := y.Client.GetStreamContext(ctx, video, format)
	if err != nil {
		return "", fmt.Errorf("youtube stream failed: %w", err)
	}
	defer stream.Close()

	if err := os.MkdirAll(y.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(y.OutputDir, sanitizeFileName(video.Title)+extensionFor(format.MimeType))

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}

	_, err = io.Copy(file, &progressReader{r: stream, total: size, progress: progress})
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("youtube download failed: %w", err)
	}
	return path, nil
}

// pickAudioFormat returns the highest-bitrate audio-only format
func pickAudioFormat(formats []youtube.Format) *youtube.Format {
	var best *youtube.Format
	for i := range formats {
		f := &formats[i]
		if f.AudioChannels == 0 || !strings.HasPrefix(f.MimeType, "audio/") {
			continue
		}
		if best == nil || f.Bitrate > best.Bitrate {
			best = f
		}
	}
	return best
}

func extensionFor(mimeType string) string {
	switch {
	case strings.HasPrefix(mimeType, "audio/mp4"):
		return ".m4a"
	case strings.HasPrefix(mimeType, "audio/webm"):
		return ".webm"
	default:
		return ".audio"
	}
}

func sanitizeFileName(name string) string {
	name = strings.TrimSpace(unsafeFileChars.ReplaceAllString(name, "_"))
	if name == "" {
		return "track"
	}
	return name
}

// progressReader reports the share of total read so far
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	progress ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.total > 0 && n > 0 {
		p.progress(float64(p.read) / float64(p.total) * 100)
	}
	return n, err
}
