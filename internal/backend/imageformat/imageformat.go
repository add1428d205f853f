// Package imageformat sniffs the encoding of an uploaded payload. The relay does not
// validate images; the result only decides which Content-Type and file extension the
// stored bytes are served with.
package imageformat

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const OctetStream = "application/octet-stream"

var formatToMIME = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"tiff": "image/tiff",
	"webp": "image/webp",
}

var mimeToExtension = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
	"image/webp": ".webp",
	OctetStream:  ".bin",
}

// Detect returns the MIME type of data, or OctetStream when no registered decoder
// recognises the header.
func Detect(data []byte) string {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return OctetStream
	}
	if mime, ok := formatToMIME[format]; ok {
		return mime
	}
	return OctetStream
}

// Extension maps a MIME type to the file extension used on disk.
func Extension(contentType string) string {
	if ext, ok := mimeToExtension[contentType]; ok {
		return ext
	}
	return mimeToExtension[OctetStream]
}

// ContentTypeForExtension is the inverse of Extension.
func ContentTypeForExtension(ext string) string {
	ext = strings.ToLower(ext)
	if ext == ".jpeg" {
		return "image/jpeg"
	}
	for mime, candidate := range mimeToExtension {
		if candidate == ext {
			return mime
		}
	}
	return OctetStream
}
