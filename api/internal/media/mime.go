package media

import (
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DetectMIME sniffs the content type with the stdlib first and falls back to
// mimetype for the formats net/http does not know (bmp variants, heic, ...).
func DetectMIME(b []byte) string {
	if len(b) == 0 {
		return "application/octet-stream"
	}
	if mt := http.DetectContentType(b); mt != "application/octet-stream" {
		return mt
	}
	return mimetype.Detect(b).String()
}

// PickMIME prefers the explicit MIME, then the data:URI hint, then sniffing.
func PickMIME(explicit, hint string, data []byte) string {
	if exp := strings.TrimSpace(explicit); exp != "" {
		return exp
	}
	if h := strings.TrimSpace(hint); h != "" {
		return h
	}
	if len(data) > 0 {
		return DetectMIME(data)
	}
	return "image/jpeg"
}

// DecodeBase64MaybeDataURL decodes plain base64 or a data:URI. For data:URIs the
// MIME from the prefix is returned as well.
func DecodeBase64MaybeDataURL(s string) ([]byte, string, error) {
	s = strings.TrimSpace(s)
	var hintMIME string
	if strings.HasPrefix(strings.ToLower(s), "data:") {
		// data:<mime>;base64,<payload>
		if idx := strings.IndexByte(s, ','); idx > 0 {
			meta := s[len("data:"):idx]
			if semi := strings.IndexByte(meta, ';'); semi >= 0 {
				hintMIME = meta[:semi]
			} else {
				hintMIME = meta
			}
			s = s[idx+1:]
		}
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, hintMIME, nil
	}
	if b2, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return b2, hintMIME, nil
	}
	return nil, "", err
}
