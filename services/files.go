package services

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/bbqjohan/yt-downloader/types"
	"github.com/dhowden/tag"
	"go.uber.org/zap"
)

var (
	mediaContentTypes = map[string]string{
		".m4a":  "audio/mp4",
		".mp4":  "video/mp4",
		".webm": "video/webm",
		".mp3":  "audio/mpeg",
		".flac": "audio/flac",
		".opus": "audio/ogg",
		".mkv":  "video/x-matroska",
	}

	// "Some title [dQw4w9WgXcQ]" as named by the external tool's default template
	videoIDSuffix = regexp.MustCompile(`^(.+?)\s*\[[\w-]{11}\]$`)
)

// FileService lists and validates downloaded media files
type FileService interface {
	ScanMediaFiles(rootPath string) ([]types.MediaFile, error)
	ExtractMetadata(filePath string) *types.MediaMetadata
	ValidateFilePath(path string) error
	ResolveMediaPath(rootPath, requested string) (string, error)
	GetContentType(filePath string) string
}

type fileService struct {
	logger *zap.Logger
}

// NewFileService creates a new file service
func NewFileService(logger *zap.Logger) FileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &fileService{logger: logger.Named("files")}
}

// IsMediaFile reports whether the extension is one the downloader produces
func IsMediaFile(path string) bool {
	_, ok := mediaContentTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ScanMediaFiles recursively collects media files under rootPath, sorted by path
func (fs *fileService) ScanMediaFiles(rootPath string) ([]types.MediaFile, error) {
	files := []types.MediaFile{}

	err := filepath.Walk(rootPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			fs.logger.Warn("error accessing path", zap.String("path", path), zap.Error(err))
			return nil // keep walking
		}

		if info.IsDir() || !IsMediaFile(path) {
			return nil
		}

		relativePath, err := filepath.Rel(rootPath, path)
		if err != nil {
			relativePath = path
		}

		files = append(files, types.MediaFile{
			Filename: info.Name(),
			Path:     filepath.ToSlash(relativePath),
			Size:     info.Size(),
			Format:   strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			Metadata: fs.ExtractMetadata(path),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Path < files[j].Path
	})
	return files, nil
}

// GetContentType returns the MIME type for a media file
func (fs *fileService) GetContentType(filePath string) string {
	if contentType, ok := mediaContentTypes[strings.ToLower(filepath.Ext(filePath))]; ok {
		return contentType
	}
	return "application/octet-stream"
}

// ExtractMetadata reads the file tags, falling back to what the path tells us
func (fs *fileService) ExtractMetadata(filePath string) *types.MediaMetadata {
	file, err := os.Open(filePath)
	if err != nil {
		fs.logger.Debug("could not open media file", zap.String("path", filePath), zap.Error(err))
		return metadataFromPath(filePath)
	}
	defer file.Close()

	meta, err := tag.ReadFrom(file)
	if err != nil {
		fs.logger.Debug("no readable tags", zap.String("path", filePath), zap.Error(err))
		return metadataFromPath(filePath)
	}

	metadata := &types.MediaMetadata{
		Title:  meta.Title(),
		Artist: meta.Artist(),
		Album:  meta.Album(),
		Genre:  meta.Genre(),
		Year:   meta.Year(),
	}

	if metadata.Title == "" || metadata.Artist == "" {
		fallback := metadataFromPath(filePath)
		if metadata.Title == "" {
			metadata.Title = fallback.Title
		}
		if metadata.Artist == "" {
			metadata.Artist = fallback.Artist
		}
	}

	return metadata
}

// metadataFromPath derives a title from the file name and treats the parent
// directory as the channel.
func metadataFromPath(filePath string) *types.MediaMetadata {
	metadata := &types.MediaMetadata{}

	parts := strings.Split(filepath.ToSlash(filePath), "/")
	if len(parts) >= 2 {
		metadata.Artist = parts[len(parts)-2]
	}

	filename := parts[len(parts)-1]
	title := strings.TrimSuffix(filename, filepath.Ext(filename))
	if matches := videoIDSuffix.FindStringSubmatch(title); len(matches) > 1 {
		title = matches[1]
	}
	metadata.Title = title

	return metadata
}

// ValidateFilePath rejects paths that could escape the download directory
func (fs *fileService) ValidateFilePath(path string) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("empty path not allowed")
	}

	if strings.Contains(path, "..") {
		return fmt.Errorf("path traversal not allowed")
	}

	if strings.HasPrefix(path, "/") || filepath.IsAbs(path) {
		return fmt.Errorf("absolute paths not allowed")
	}

	return nil
}

// ResolveMediaPath joins a client supplied relative path onto rootPath, refusing
// anything that is not a media file inside rootPath.
func (fs *fileService) ResolveMediaPath(rootPath, requested string) (string, error) {
	if err := fs.ValidateFilePath(requested); err != nil {
		return "", err
	}
	if !IsMediaFile(requested) {
		return "", fmt.Errorf("only downloaded media files can be streamed")
	}

	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return "", fmt.Errorf("resolving download location: %w", err)
	}
	fullPath := filepath.Join(absRoot, requested)
	if !strings.HasPrefix(fullPath, absRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal not allowed")
	}
	return fullPath, nil
}
