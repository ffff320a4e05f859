package chat

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"path"
	"strings"
)

// DefaultMaxAvatarBytes bounds a decoded avatar when no limit is configured.
const DefaultMaxAvatarBytes = 2 << 20

var avatarTypes = map[string][]string{
	"image/png":  {".png"},
	"image/jpeg": {".jpg", ".jpeg"},
	"image/gif":  {".gif"},
	"image/webp": {".webp"},
}

// AvatarPolicy validates thumbnail uploads.
type AvatarPolicy struct {
	MaxBytes int
}

// Decode turns a base64 payload (optionally a data URL) into image bytes and
// a safe file name. The sniffed content type must be an allowed image type
// and must agree with the file extension.
func (p AvatarPolicy) Decode(payload, filename string) ([]byte, string, error) {
	maxBytes := p.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxAvatarBytes
	}

	if i := strings.Index(payload, ";base64,"); strings.HasPrefix(payload, "data:") && i >= 0 {
		payload = payload[i+len(";base64,"):]
	}
	payload = strings.TrimSpace(payload)
	if base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+3 {
		return nil, "", fmt.Errorf("%w: payload exceeds %d bytes", ErrAvatarRejected, maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("%w: empty avatar", ErrMalformed)
	}
	if len(data) > maxBytes {
		return nil, "", fmt.Errorf("%w: payload exceeds %d bytes", ErrAvatarRejected, maxBytes)
	}

	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || strings.HasPrefix(name, ".") {
		return nil, "", fmt.Errorf("%w: invalid filename %q", ErrAvatarRejected, filename)
	}

	contentType := http.DetectContentType(data)
	exts, ok := avatarTypes[contentType]
	if !ok {
		return nil, "", fmt.Errorf("%w: content type %s", ErrAvatarRejected, contentType)
	}
	ext := strings.ToLower(path.Ext(name))
	for _, allowed := range exts {
		if ext == allowed {
			return data, name, nil
		}
	}
	return nil, "", fmt.Errorf("%w: extension %q does not match %s", ErrAvatarRejected, ext, contentType)
}
