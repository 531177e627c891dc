package upload

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/iago/outreach-dashboard-back/internal/domain"
)

// MaxFileSize is the largest accepted upload, in bytes.
const MaxFileSize int64 = 5 * 1024 * 1024

var allowedContentTypes = map[string]struct{}{
	"text/csv":                 {},
	"application/vnd.ms-excel": {},
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": {},
}

var allowedExtensions = []string{".csv", ".xls", ".xlsx"}

// Validate checks a candidate file before anything is sent. The content type
// wins when it is allowed; otherwise the filename extension decides.
func Validate(filename, contentType string, size int64) error {
	if !allowedContentType(contentType) {
		extension := strings.ToLower(filepath.Ext(strings.TrimSpace(filename)))
		if !allowedExtension(extension) {
			return domain.NewValidationError(
				"file",
				fmt.Sprintf("invalid file type, allowed: %s", strings.Join(allowedExtensions, ", ")),
			)
		}
	}
	if size > MaxFileSize {
		return domain.NewValidationError("file", "file too large, maximum size: 5MB")
	}
	if size <= 0 {
		return domain.NewValidationError("file", "file is empty")
	}
	return nil
}

func allowedContentType(contentType string) bool {
	mediaType := strings.ToLower(strings.TrimSpace(contentType))
	if index := strings.Index(mediaType, ";"); index >= 0 {
		mediaType = strings.TrimSpace(mediaType[:index])
	}
	_, ok := allowedContentTypes[mediaType]
	return ok
}

func allowedExtension(extension string) bool {
	for _, allowed := range allowedExtensions {
		if extension == allowed {
			return true
		}
	}
	return false
}
