package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"golang.org/x/sync/errgroup"
)

const dataURLScheme = "data:"

var errEmptyImage = errors.New("image is empty")

// EncodedImage is an image ready for inline transmission: standard base64 text plus media type.
type EncodedImage struct {
	MediaType string
	Data      string

	raw []byte
}

// Bytes returns the decoded image bytes.
func (e EncodedImage) Bytes() ([]byte, error) {
	if e.raw != nil {
		return e.raw, nil
	}
	return base64.StdEncoding.DecodeString(e.Data)
}

// DataURL renders the image as a data URL.
func (e EncodedImage) DataURL() string {
	return dataURLScheme + e.MediaType + ";base64," + e.Data
}

// Encode converts an uploaded blob into base64 text and a media type. A blob whose bytes are
// already a data URL has its "data:<type>;base64," prefix stripped instead of being re-encoded.
func Encode(blob *Blob) (EncodedImage, error) {
	if blob.Empty() {
		return EncodedImage{}, inputError("image missing", errEmptyImage)
	}

	if bytes.HasPrefix(blob.Data, []byte(dataURLScheme)) {
		return decodeDataURL(string(blob.Data))
	}

	return EncodedImage{
		MediaType: mediaType(blob.MediaType, blob.Data),
		Data:      base64.StdEncoding.EncodeToString(blob.Data),
		raw:       blob.Data,
	}, nil
}

// EncodePair encodes both hands concurrently and returns once both are done. A failure on
// either hand or a cancelled ctx stops the other before it encodes.
func EncodePair(ctx context.Context, left, right *Blob) (EncodedImage, EncodedImage, error) {
	var leftImg, rightImg EncodedImage
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		img, err := encodeContext(gctx, left)
		if err != nil {
			return fmt.Errorf("left hand: %w", err)
		}
		leftImg = img
		return nil
	})
	g.Go(func() error {
		img, err := encodeContext(gctx, right)
		if err != nil {
			return fmt.Errorf("right hand: %w", err)
		}
		rightImg = img
		return nil
	})
	if err := g.Wait(); err != nil {
		return EncodedImage{}, EncodedImage{}, err
	}
	return leftImg, rightImg, nil
}

func encodeContext(ctx context.Context, blob *Blob) (EncodedImage, error) {
	if err := ctx.Err(); err != nil {
		return EncodedImage{}, err
	}
	return Encode(blob)
}

// ParseDataURL decodes a "data:<type>;base64,<payload>" string, as sent by the JSON API.
func ParseDataURL(value string) (EncodedImage, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return EncodedImage{}, inputError("image missing", errEmptyImage)
	}
	if !strings.HasPrefix(value, dataURLScheme) {
		return EncodedImage{}, inputError("image is not a data URL", nil)
	}
	return decodeDataURL(value)
}

func decodeDataURL(value string) (EncodedImage, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(value, dataURLScheme), ",")
	if !ok {
		return EncodedImage{}, inputError("data URL has no payload separator", nil)
	}
	params := strings.Split(header, ";")
	if params[len(params)-1] != "base64" {
		return EncodedImage{}, inputError("data URL is not base64 encoded", nil)
	}
	payload = strings.TrimSpace(payload)
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return EncodedImage{}, inputError("data URL payload is not valid base64", err)
	}
	if len(raw) == 0 {
		return EncodedImage{}, inputError("image missing", errEmptyImage)
	}
	return EncodedImage{
		MediaType: mediaType(params[0], raw),
		Data:      payload,
		raw:       raw,
	}, nil
}

// mediaType keeps a declared image/* type and otherwise sniffs the content.
func mediaType(declared string, data []byte) string {
	if declared != "" {
		if parsed, _, err := mime.ParseMediaType(declared); err == nil && strings.HasPrefix(parsed, "image/") {
			return parsed
		}
	}
	sniffed := http.DetectContentType(data)
	if parsed, _, err := mime.ParseMediaType(sniffed); err == nil {
		return parsed
	}
	return "application/octet-stream"
}
