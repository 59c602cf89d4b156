package storage

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	ErrFileTooLarge    = errors.New("file exceeds maximum size")
	ErrInvalidMimeType = errors.New("file type not allowed")
	ErrEmptyFile       = errors.New("file is empty")
)

const CategoryProof = "proof"

// AllowedMimeTypes lists the sniffed content types accepted per category.
var AllowedMimeTypes = map[string][]string{
	CategoryProof: {"image/jpeg", "image/png", "image/webp", "application/pdf"},
}

var MaxFileSizes = map[string]int64{
	CategoryProof: 10 * 1024 * 1024,
}

// ValidateFile reads at most maxSize bytes and checks the content type
// detected from the data, never the client-supplied one.
func ValidateFile(reader io.Reader, category string, maxSize int64) ([]byte, string, error) {
	// One extra byte tells an oversized file apart from one exactly at the limit.
	data, err := io.ReadAll(io.LimitReader(reader, maxSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read file: %w", err)
	}
	if len(data) == 0 {
		return nil, "", ErrEmptyFile
	}
	if int64(len(data)) > maxSize {
		return nil, "", ErrFileTooLarge
	}

	mimeType := http.DetectContentType(data)
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}

	allowedTypes, ok := AllowedMimeTypes[category]
	if !ok {
		return nil, "", fmt.Errorf("unknown category: %s", category)
	}
	for _, t := range allowedTypes {
		if t == mimeType {
			return data, mimeType, nil
		}
	}
	return nil, "", ErrInvalidMimeType
}

// MaxSize returns the size limit for category, 10 MB when unset.
func MaxSize(category string) int64 {
	if size, ok := MaxFileSizes[category]; ok {
		return size
	}
	return 10 * 1024 * 1024
}

// GetExtensionForMime returns the file extension for a MIME type
func GetExtensionForMime(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "application/pdf":
		return ".pdf"
	default:
		return ""
	}
}
