// Package payload turns an upload request body into raw image bytes.
package payload

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"imgpipe/internal/models"
)

// jsonImageKeys are tried in order; the first present key wins.
var jsonImageKeys = []string{"body", "image"}

// Request is an upload as received from the transport.
type Request struct {
	Body string
	// Base64Encoded is set when the transport delivered the body base64 encoded.
	Base64Encoded bool
	Headers       map[string]string
}

// Result is the decoded image payload.
type Result struct {
	Data []byte
	// ContentType is the declared request content type, lowercased, possibly empty.
	ContentType string
}

// Header returns the value of a header, matching the name case-insensitively.
func (r Request) Header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Normalize extracts the image bytes from r.
//
// A JSON body carries the image base64 encoded under "body" or "image".
// Any other body is itself the base64 text of the image. That branch decodes
// once whether or not Base64Encoded is set.
func Normalize(r Request) (*Result, error) {
	const op = "payload.Normalize"

	if r.Body == "" {
		return nil, fmt.Errorf("%s: %w", op, models.ErrEmptyPayload)
	}
	contentType := strings.ToLower(strings.TrimSpace(r.Header("Content-Type")))

	var encoded string
	if strings.HasPrefix(contentType, "application/json") {
		raw := r.Body
		if r.Base64Encoded {
			b, err := decodeBase64(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: transport body: %w", op, models.ErrMalformedRequest)
			}
			raw = string(b)
		}
		v, err := imageField(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		encoded = v
	} else {
		encoded = r.Body
	}

	data, err := decodeBase64(encoded)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", op, models.ErrInvalidEncoding, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: no image data: %w", op, models.ErrEmptyPayload)
	}
	return &Result{Data: data, ContentType: contentType}, nil
}

func imageField(raw string) (string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("%w: invalid JSON: %v", models.ErrMalformedRequest, err)
	}
	for _, key := range jsonImageKeys {
		v, ok := doc[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", fmt.Errorf("%w: field %q is not a string", models.ErrInvalidEncoding, key)
		}
		return s, nil
	}
	return "", fmt.Errorf("%w: expected 'body' or 'image' field", models.ErrMalformedRequest)
}

// decodeBase64 accepts padded and unpadded standard encodings, ignoring
// surrounding whitespace and embedded line breaks.
func decodeBase64(s string) ([]byte, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)
	if strings.HasSuffix(s, "=") || len(s)%4 == 0 {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
