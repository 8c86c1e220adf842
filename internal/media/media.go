// Package media stores user uploads (avatars, post images and videos) in
// an object store. Objects are content-addressed: the key of an upload is
// users/<userID>/<cid>, where cid is a CIDv1 over the SHA-256 of the
// bytes, so all of a user's files share one prefix and can be removed
// together when the account is deleted.
package media

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// MaxUploadSize is the maximum accepted upload (5 MiB).
const MaxUploadSize = 5 << 20

// Sentinel errors for media operations.
var (
	ErrNotFound        = errors.New("media: not found")
	ErrTooLarge        = fmt.Errorf("media: exceeds maximum size of %d bytes", MaxUploadSize)
	ErrUnsupportedType = errors.New("media: unsupported content type")
	ErrEmpty           = errors.New("media: empty upload")
)

// allowedTypes are the MIME types accepted for upload.
var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
	"video/mp4":  true,
	"video/webm": true,
}

// Object is a stored file.
type Object struct {
	Key         string `json:"key"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// Store is an object store keyed by string paths.
type Store interface {
	// Put stores the contents of r under key, overwriting any existing
	// object.
	Put(ctx context.Context, key, contentType string, r io.Reader) error
	// Get opens the object at key. Returns ErrNotFound if absent. The
	// caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, *Object, error)
	// DeletePrefix removes every object whose key starts with prefix and
	// returns how many were removed.
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

// UserPrefix returns the key prefix under which a user's files live.
func UserPrefix(userID int64) string {
	return fmt.Sprintf("users/%d/", userID)
}

// OwnedBy reports whether key belongs to the given user.
func OwnedBy(key string, userID int64) bool {
	return strings.HasPrefix(key, UserPrefix(userID)) && !strings.Contains(key, "..")
}

// Upload reads at most MaxUploadSize bytes from r, computes the content
// address, and stores the file under the user's prefix.
func Upload(ctx context.Context, store Store, userID int64, contentType string, r io.Reader) (*Object, error) {
	contentType = normalizeContentType(contentType)
	if !allowedTypes[contentType] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, contentType)
	}

	data, err := io.ReadAll(io.LimitReader(r, MaxUploadSize+1))
	if err != nil {
		return nil, fmt.Errorf("media: read: %w", err)
	}
	if len(data) > MaxUploadSize {
		return nil, ErrTooLarge
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}

	c, err := ContentID(data)
	if err != nil {
		return nil, err
	}

	key := UserPrefix(userID) + c
	if err := store.Put(ctx, key, contentType, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("media: store %s: %w", key, err)
	}

	return &Object{Key: key, ContentType: contentType, Size: int64(len(data))}, nil
}

// ContentID computes the CIDv1 (raw codec, SHA-256) of data.
func ContentID(data []byte) (string, error) {
	hash := sha256.Sum256(data)
	mh, err := multihash.Encode(hash[:], multihash.SHA2_256)
	if err != nil {
		return "", fmt.Errorf("media: multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}

// normalizeContentType drops parameters such as "; charset=".
func normalizeContentType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
