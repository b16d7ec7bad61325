// Package storage issues presigned URLs that let contacts upload step files
// straight to object storage.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"
)

var ErrInvalidFileName = errors.New("invalid file name")

// UploadURL is a presigned request the client replays verbatim.
type UploadURL struct {
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Key       string            `json:"key"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

type Presigner interface {
	PresignUpload(ctx context.Context, key, contentType string, expires time.Duration) (*UploadURL, error)
}

// ObjectKey builds "<org>/<workflow>/<step>/<nonce>-<file>" from a client file name,
// keeping only its base name.
func ObjectKey(organizationID, workflowID, stepID, nonce, fileName string) (string, error) {
	base := path.Base(strings.ReplaceAll(fileName, "\\", "/"))
	if base == "." || base == "/" || base == ".." || strings.TrimSpace(base) == "" {
		return "", ErrInvalidFileName
	}

	return path.Join(organizationID, workflowID, stepID, nonce+"-"+base), nil
}
