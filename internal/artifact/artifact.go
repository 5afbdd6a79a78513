// Package artifact decodes and validates uploaded certificate files. It does
// no I/O: every rejection happens before hashing or any upstream call.
package artifact

import (
	"encoding/base64"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/edvin/certverify/internal/domainerr"
	"github.com/edvin/certverify/internal/model"
)

var (
	ErrUndeterminedType = domainerr.New(domainerr.CodeValidation, "could not determine file type")
	ErrUnsupportedType  = domainerr.New(domainerr.CodeValidation, "unsupported file type")
	ErrTooLarge         = domainerr.New(domainerr.CodeValidation, "file too large")
	ErrMalformed        = domainerr.New(domainerr.CodeValidation, "malformed file data")
)

// Allowed MIME types mapped to the artifact kind they produce.
var allowed = map[string]string{
	"image/jpeg":      model.ArtifactKindImage,
	"image/png":       model.ArtifactKindImage,
	"image/gif":       model.ArtifactKindImage,
	"image/webp":      model.ArtifactKindImage,
	"image/bmp":       model.ArtifactKindImage,
	"image/tiff":      model.ArtifactKindImage,
	"application/pdf": model.ArtifactKindPDF,
}

var aliases = map[string]string{
	"image/jpg":      "image/jpeg",
	"image/pjpeg":    "image/jpeg",
	"image/x-bmp":    "image/bmp",
	"image/x-ms-bmp": "image/bmp",
}

// Upload is a decoded payload with its declared type.
type Upload struct {
	Data     []byte
	MimeType string
}

// Artifact is a decoded payload that passed validation.
type Artifact struct {
	Data     []byte
	MimeType string
	Kind     string
}

func (a *Artifact) Size() int64 { return int64(len(a.Data)) }

// IsPDF reports whether the artifact needs normalization before storage.
func (a *Artifact) IsPDF() bool { return a.Kind == model.ArtifactKindPDF }

// Parse decodes a data URI and validates the result against maxBytes.
func Parse(dataURI string, maxBytes int64) (*Artifact, error) {
	up, err := Decode(dataURI, maxBytes)
	if err != nil {
		return nil, err
	}
	kind, err := Validate(up.MimeType, up.Data, maxBytes)
	if err != nil {
		return nil, err
	}
	return &Artifact{Data: up.Data, MimeType: up.MimeType, Kind: kind}, nil
}

// Decode splits a data URI ("data:<mime>[;param];base64,<payload>") into raw
// bytes and its declared MIME type. A payload without a data URI header has
// no type marker and is rejected before decoding. When maxBytes > 0 the
// decoded length is computed from the encoded length first, so oversized
// payloads are rejected without being decoded.
func Decode(dataURI string, maxBytes int64) (*Upload, error) {
	header, payload, ok := strings.Cut(strings.TrimSpace(dataURI), ",")
	if !ok || !strings.HasPrefix(strings.ToLower(header), "data:") {
		return nil, ErrUndeterminedType.Withf("file data must be a data URI with a MIME type")
	}

	params := strings.Split(header[len("data:"):], ";")
	mime := NormalizeMimeType(params[0])
	if mime == "" {
		return nil, ErrUndeterminedType.Withf("data URI does not declare a MIME type")
	}

	base64Encoded := false
	for _, p := range params[1:] {
		if strings.EqualFold(strings.TrimSpace(p), "base64") {
			base64Encoded = true
		}
	}
	if !base64Encoded {
		return nil, ErrMalformed.Withf("file data must be base64-encoded")
	}

	if maxBytes > 0 {
		if n := decodedLen(payload); n > maxBytes {
			return nil, ErrTooLarge.Withf("file size %d bytes exceeds maximum of %d bytes", n, maxBytes)
		}
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, ErrMalformed.Withf("file data is not valid base64")
	}

	return &Upload{Data: data, MimeType: mime}, nil
}

// Validate checks the declared type against the allow-list, the size against
// maxBytes (inclusive), and the sniffed content against the declared type.
// It returns the artifact kind.
func Validate(mimeType string, data []byte, maxBytes int64) (string, error) {
	mimeType = NormalizeMimeType(mimeType)
	if mimeType == "" {
		return "", ErrUndeterminedType
	}
	kind, ok := allowed[mimeType]
	if !ok {
		return "", ErrUnsupportedType.Withf("file type %s is not allowed", mimeType)
	}
	if len(data) == 0 {
		return "", ErrMalformed.Withf("file is empty")
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", ErrTooLarge.Withf("file size %d bytes exceeds maximum of %d bytes", len(data), maxBytes)
	}

	detected := mimetype.Detect(data)
	switch kind {
	case model.ArtifactKindPDF:
		if !detected.Is("application/pdf") {
			return "", ErrUnsupportedType.Withf("file content (%s) does not match declared type %s", detected.String(), mimeType)
		}
	case model.ArtifactKindImage:
		if !strings.HasPrefix(detected.String(), "image/") {
			return "", ErrUnsupportedType.Withf("file content (%s) does not match declared type %s", detected.String(), mimeType)
		}
	}
	return kind, nil
}

// NormalizeMimeType lowercases a MIME type, strips parameters and maps common
// aliases to their canonical names.
func NormalizeMimeType(s string) string {
	s, _, _ = strings.Cut(s, ";")
	s = strings.ToLower(strings.TrimSpace(s))
	if canonical, ok := aliases[s]; ok {
		return canonical
	}
	return s
}

// AllowedMimeTypes returns the accepted MIME types.
func AllowedMimeTypes() []string {
	out := make([]string, 0, len(allowed))
	for m := range allowed {
		out = append(out, m)
	}
	return out
}

// EncodeDataURI is the inverse of Decode.
func EncodeDataURI(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// decodedLen returns the decoded size of a padded base64 payload, ignoring
// line breaks that the decoder also skips.
func decodedLen(payload string) int64 {
	n := int64(len(payload)) - int64(strings.Count(payload, "\n")+strings.Count(payload, "\r"))
	padding := int64(0)
	trimmed := strings.TrimRight(payload, "\r\n")
	for i := len(trimmed) - 1; i >= 0 && trimmed[i] == '=' && padding < 2; i-- {
		padding++
	}
	return n/4*3 - padding + (n%4)*3/4
}
