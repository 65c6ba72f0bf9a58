package media

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrDecode is returned when the source bytes cannot be read as an image.
// The upload should be rejected; retrying with the same bytes will not help.
var ErrDecode = errors.New("media: cannot decode image")

// ErrTooLarge rejects images whose declared dimensions exceed the limits. It
// is a decode failure: errors.Is(err, ErrDecode) holds.
var ErrTooLarge = fmt.Errorf("%w: image dimensions too large", ErrDecode)

// RawMedia is an image as received from the user.
type RawMedia struct {
	Data     []byte
	MIMEType string
}

func (r RawMedia) Len() int { return len(r.Data) }

// Meta describes what the reducer did to a RawMedia.
type Meta struct {
	OriginalSize int     `json:"original_size"`
	FinalSize    int     `json:"final_size"`
	Steps        int     `json:"steps"` // encode trials; 0 on the fast path
	Oversized    bool    `json:"oversized"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	Quality      float64 `json:"quality"`
}

// CompressedMedia is the reducer output. Data may alias the input on the fast path.
type CompressedMedia struct {
	Data     []byte
	MIMEType string
	Meta     Meta
}

// SHA256Hex returns the hex digest of b, used as a cache key for images.
func SHA256Hex(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}
