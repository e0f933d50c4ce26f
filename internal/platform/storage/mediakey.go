package storage

import (
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/watchfix/api/internal/domain"
)

// PlaceholderSegment stands in for the request id in keys of media uploaded before its request exists.
const PlaceholderSegment = "temp"

const defaultExtension = "bin"

// ErrInvalidMediaKey is returned when a key does not follow the media key scheme.
var ErrInvalidMediaKey = errors.New("storage: invalid media key")

// MediaKey is the parsed form of shops/{shopId}/requests/{requestId|temp}/{folder}/{file}.
type MediaKey struct {
	ShopID   int64
	Binding  domain.MediaBinding
	Type     domain.MediaType
	FileName string
}

// NewUnboundMediaKey builds a fresh placeholder key for an upload. The file name is a random
// uuid that keeps the extension of the original file name.
func NewUnboundMediaKey(shopID int64, mediaType domain.MediaType, originalFilename string) (MediaKey, error) {
	if shopID <= 0 {
		return MediaKey{}, fmt.Errorf("%w: shop id is required", ErrInvalidMediaKey)
	}
	if !mediaType.Valid() {
		return MediaKey{}, fmt.Errorf("%w: unsupported media type %q", ErrInvalidMediaKey, mediaType)
	}
	return MediaKey{
		ShopID:   shopID,
		Binding:  domain.Unbound(),
		Type:     mediaType,
		FileName: uuid.NewString() + "." + extensionOf(originalFilename),
	}, nil
}

// ParseMediaKey parses a stored key.
func ParseMediaKey(key string) (MediaKey, error) {
	parts := strings.Split(strings.TrimSpace(key), "/")
	if len(parts) != 6 || parts[0] != "shops" || parts[2] != "requests" {
		return MediaKey{}, fmt.Errorf("%w: %q", ErrInvalidMediaKey, key)
	}
	shopID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || shopID <= 0 {
		return MediaKey{}, fmt.Errorf("%w: bad shop segment in %q", ErrInvalidMediaKey, key)
	}

	binding := domain.Unbound()
	if parts[3] != PlaceholderSegment {
		requestID, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil || requestID <= 0 {
			return MediaKey{}, fmt.Errorf("%w: bad request segment in %q", ErrInvalidMediaKey, key)
		}
		binding = domain.BoundTo(requestID)
	}

	mediaType, ok := domain.MediaTypeForFolder(parts[4])
	if !ok {
		return MediaKey{}, fmt.Errorf("%w: bad folder in %q", ErrInvalidMediaKey, key)
	}
	fileName, err := validateFileName(parts[5])
	if err != nil {
		return MediaKey{}, fmt.Errorf("%w: %v", ErrInvalidMediaKey, err)
	}

	return MediaKey{ShopID: shopID, Binding: binding, Type: mediaType, FileName: fileName}, nil
}

// Bind returns the key the object must live under once it belongs to the request.
// Only unbound keys can be bound.
func (k MediaKey) Bind(requestID int64) (MediaKey, error) {
	if requestID <= 0 {
		return MediaKey{}, fmt.Errorf("%w: request id is required", ErrInvalidMediaKey)
	}
	if k.Binding.IsBound() {
		return MediaKey{}, fmt.Errorf("%w: key is already bound", ErrInvalidMediaKey)
	}
	bound := k
	bound.Binding = domain.BoundTo(requestID)
	return bound, nil
}

// String renders the object key.
func (k MediaKey) String() string {
	segment := PlaceholderSegment
	if requestID, ok := k.Binding.RequestID(); ok {
		segment = strconv.FormatInt(requestID, 10)
	}
	return path.Join("shops", strconv.FormatInt(k.ShopID, 10), "requests", segment, k.Type.Folder(), k.FileName)
}

func extensionOf(filename string) string {
	filename = strings.TrimSpace(filename)
	idx := strings.LastIndex(filename, ".")
	if idx < 0 || idx == len(filename)-1 {
		return defaultExtension
	}
	ext := strings.ToLower(filename[idx+1:])
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return defaultExtension
		}
	}
	if len(ext) > 10 {
		return defaultExtension
	}
	return ext
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errors.New("file name is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", errors.New("file name contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", errors.New("file name contains invalid traversal sequence")
	}
	return value, nil
}
