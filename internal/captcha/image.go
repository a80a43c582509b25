package captcha

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	"image/png"
	"net/http"
	"strings"

	"github.com/nfnt/resize"
)

// DefaultMaxWidth is the widest image sent to a solver.
const DefaultMaxWidth = 800

// nativeTypes are the media types vision APIs accept as they are.
var nativeTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
	"image/webp": true,
}

// PrepareImage sniffs the media type when unset, scales images wider than
// maxWidth down (keeping the aspect ratio) and re-encodes formats the vision
// APIs do not accept as PNG.
func PrepareImage(img Image, maxWidth uint) (Image, error) {
	if len(img.Data) == 0 {
		return Image{}, ErrEmptyImage
	}
	if maxWidth == 0 {
		maxWidth = DefaultMaxWidth
	}

	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(img.MediaType, ";", 2)[0]))
	if mediaType == "" || !strings.HasPrefix(mediaType, "image/") {
		mediaType = http.DetectContentType(img.Data)
	}

	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		if nativeTypes[mediaType] {
			// webp has no decoder in the standard library; pass it through
			return Image{Data: img.Data, MediaType: mediaType}, nil
		}
		return Image{}, fmt.Errorf("failed to decode CAPTCHA image (%s): %w", mediaType, err)
	}

	width := uint(decoded.Bounds().Dx()) //nolint:gosec // image bounds are non-negative
	if width <= maxWidth && nativeTypes[mediaType] {
		return Image{Data: img.Data, MediaType: mediaType}, nil
	}

	if width > maxWidth {
		decoded = resize.Resize(maxWidth, 0, decoded, resize.Lanczos3)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return Image{}, fmt.Errorf("failed to encode CAPTCHA image: %w", err)
	}
	return Image{Data: buf.Bytes(), MediaType: "image/png"}, nil
}

// dataURL renders img as a base64 data: URL.
func dataURL(img Image) string {
	return "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
