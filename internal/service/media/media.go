package media

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists binary blobs and returns durable public URLs.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// ImageKey builds the object key for an uploaded image.
func ImageKey(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	return fmt.Sprintf("images/%s-%d%s", uuid.NewString(), time.Now().UnixMilli(), ext)
}

// AudioKey builds the object key for a synthesized reply.
func AudioKey(sessionID string) string {
	return fmt.Sprintf("audio/%s/%s.mp3", sessionID, uuid.NewString())
}
