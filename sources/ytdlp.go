package sources

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	DefaultYTDLPBinary  = "yt-dlp"
	DefaultAudioFormat  = "mp3"
	DefaultAudioQuality = "192K"
	outputTemplate      = "%(title)s.%(ext)s"
)

var progressPattern = regexp.MustCompile(`^\[download\]\s+(\d+(?:\.\d+)?)%`)

// YTDLP fetches audio by running the yt-dlp executable. It serves any source
// yt-dlp has an extractor for, and search queries such as "ytsearch1:...".
type YTDLP struct {
	Binary       string
	OutputDir    string
	AudioFormat  string
	AudioQuality string
	ExtraArgs    []string
}

// NewYTDLP creates a yt-dlp adapter writing into outputDir
func NewYTDLP(binary, outputDir, audioFormat string) *YTDLP {
	if binary == "" {
		binary = DefaultYTDLPBinary
	}
	if audioFormat == "" {
		audioFormat = DefaultAudioFormat
	}
	return &YTDLP{
		Binary:       binary,
		OutputDir:    outputDir,
		AudioFormat:  audioFormat,
		AudioQuality: DefaultAudioQuality,
	}
}

// Fetch downloads url and returns the path of the post-processed file.
func (y *YTDLP) Fetch(ctx context.Context, url string, progress ProgressFunc) (string, error) {
	if err := os.MkdirAll(y.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, y.Binary, y.buildArgs(url)...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start %s: %w", y.Binary, err)
	}

	errorOutput := make(chan string, 1)
	go func() {
		defer close(errorOutput)
		var last string
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				last = line
			}
		}
		errorOutput <- last
	}()

	var resultPath string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if percent, ok := parseProgressLine(line); ok {
			progress(percent)
			continue
		}
		if line != "" && !strings.HasPrefix(line, "[") {
			resultPath = line
		}
	}

	lastError := <-errorOutput

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("yt-dlp interrupted: %w", ctxErr)
		}
		logrus.WithError(err).WithField("url", url).Debugf("yt-dlp exited with error: %s", lastError)
		if lastError != "" {
			return "", errors.New(strings.TrimPrefix(lastError, "ERROR: "))
		}
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}

	if resultPath == "" {
		return "", errors.New("yt-dlp did not report an output file")
	}
	if _, err := os.Stat(resultPath); err != nil {
		return "", fmt.Errorf("output file missing: %w", err)
	}

	return resultPath, nil
}

func (y *YTDLP) buildArgs(url string) []string {
	args := []string{
		"-f", "bestaudio/best",
		"-x",
		"--audio-format", y.AudioFormat,
		"--audio-quality", y.AudioQuality,
		"--newline",
		"--progress",
		"--no-playlist",
		"--restrict-filenames",
		"-o", filepath.Join(y.OutputDir, outputTemplate),
		"--print", "after_move:filepath",
	}
	args = append(args, y.ExtraArgs...)
	return append(args, url)
}

func parseProgressLine(line string) (float64, bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	percent, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return percent, true
}
