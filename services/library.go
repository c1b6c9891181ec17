package services

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"mixdeck/types"

	"github.com/dhowden/tag"
	"github.com/sirupsen/logrus"
)

var trackPrefixPattern = regexp.MustCompile(`^(\d+)[\.\-\s]+(.+)`)

// LibraryService interface defines methods for inspecting downloaded files
type LibraryService interface {
	ExtractAudioMetadata(filePath string) *types.AudioMetadata
	ValidateResultPath(filePath string) (string, error)
	GetContentType(filePath string) string
}

// libraryService implements the LibraryService interface for files under root
type libraryService struct {
	root string
}

// NewLibraryService creates a library service rooted at the download directory
func NewLibraryService(root string) LibraryService {
	return &libraryService{root: root}
}

// GetContentType returns the appropriate MIME type for an audio file
func (ls *libraryService) GetContentType(filePath string) string {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".flac":
		return "audio/flac"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".aac":
		return "audio/mp4"
	case ".opus", ".ogg":
		return "audio/ogg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

// ExtractAudioMetadata reads tags from an audio file, filling gaps from the path
func (ls *libraryService) ExtractAudioMetadata(filePath string) *types.AudioMetadata {
	file, err := os.Open(filePath)
	if err != nil {
		logrus.WithError(err).Warnf("Could not open audio file %s", filePath)
		return extractMetadataFromPath(filePath)
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if err != nil {
		logrus.WithError(err).Debugf("Could not parse audio metadata from %s", filePath)
		return extractMetadataFromPath(filePath)
	}

	metadata := &types.AudioMetadata{
		Title:  meta.Title(),
		Artist: meta.Artist(),
		Album:  meta.Album(),
		Format: string(meta.FileType()),
	}
	metadata.TrackNumber, _ = meta.Track()

	if metadata.Title == "" || metadata.Artist == "" || metadata.Album == "" {
		fallback := extractMetadataFromPath(filePath)
		if metadata.Title == "" {
			metadata.Title = fallback.Title
		}
		if metadata.Artist == "" {
			metadata.Artist = fallback.Artist
		}
		if metadata.Album == "" {
			metadata.Album = fallback.Album
		}
		if metadata.TrackNumber == 0 {
			metadata.TrackNumber = fallback.TrackNumber
		}
	}

	return metadata
}

// extractMetadataFromPath derives metadata from an Artist/Album/NN - Title.ext layout
func extractMetadataFromPath(filePath string) *types.AudioMetadata {
	metadata := &types.AudioMetadata{}

	parts := strings.Split(filepath.ToSlash(filePath), "/")
	filename := filepath.Base(filePath)

	if len(parts) >= 3 {
		metadata.Artist = parts[len(parts)-3]
	}
	if len(parts) >= 2 {
		metadata.Album = parts[len(parts)-2]
	}

	ext := filepath.Ext(filename)
	metadata.Format = strings.TrimPrefix(strings.ToLower(ext), ".")

	title := strings.TrimSuffix(filename, ext)
	if matches := trackPrefixPattern.FindStringSubmatch(title); len(matches) > 2 {
		title = matches[2]
		if trackNum, err := strconv.Atoi(matches[1]); err == nil {
			metadata.TrackNumber = trackNum
		}
	}
	metadata.Title = title

	return metadata
}

// ValidateResultPath checks that filePath resolves inside the library root
// and returns the absolute path.
func (ls *libraryService) ValidateResultPath(filePath string) (string, error) {
	if strings.TrimSpace(filePath) == "" {
		return "", errors.New("empty path not allowed")
	}

	absRoot, err := filepath.Abs(ls.root)
	if err != nil {
		return "", err
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return "", err
	}

	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", errors.New("path outside download location")
	}

	return absPath, nil
}
