package blob

import (
	"bytes"
	"context"
	"errors"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	ErrFileTooLarge   = errors.New("blob file too large")
	ErrExecutableFile = errors.New("executable files are not allowed")
	ErrNotImage       = errors.New("blob content is not a decodable image")
	ErrInvalidPath    = errors.New("invalid blob path")
)

// Store writes uploaded files under unique names. Delete of a missing name
// is not an error.
type Store interface {
	Put(ctx context.Context, name string, src io.Reader, contentType string) (*StoredBlob, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) error
}

type StoredBlob struct {
	Name      string
	Path      string
	SizeBytes int64
}

// GenerateName returns a collision-free file name that keeps a short,
// sanitized form of the original extension.
func GenerateName(originalName string) string {
	return "img-" + uuid.NewString() + sanitizeExt(originalName)
}

// ImageInfo describes a buffered upload after content inspection.
type ImageInfo struct {
	Format   string
	MimeType string
	Width    int
	Height   int
}

// InspectImage checks that data holds a decodable raster image and is not an
// executable renamed to look like one.
func InspectImage(data []byte) (*ImageInfo, error) {
	if isExecutableSignature(data) {
		return nil, ErrExecutableFile
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, ErrNotImage
	}

	sniffLen := min(len(data), 512)
	return &ImageInfo{
		Format:   format,
		MimeType: trimMimeParams(http.DetectContentType(data[:sniffLen])),
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

func sanitizeExt(name string) string {
	ext := strings.ToLower(path.Ext(strings.ReplaceAll(name, "\\", "/")))
	if len(ext) < 2 || len(ext) > 6 {
		return ""
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return ""
		}
	}
	return ext
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\") && !strings.Contains(name, "..")
}

func isExecutableSignature(sniff []byte) bool {
	if len(sniff) < 2 {
		return false
	}

	if sniff[0] == 'M' && sniff[1] == 'Z' {
		return true // PE/COFF (Windows)
	}
	if len(sniff) >= 4 {
		if bytes.Equal(sniff[:4], []byte{0x7f, 'E', 'L', 'F'}) {
			return true // ELF
		}

		machoMagics := [][]byte{
			{0xfe, 0xed, 0xfa, 0xce},
			{0xce, 0xfa, 0xed, 0xfe},
			{0xfe, 0xed, 0xfa, 0xcf},
			{0xcf, 0xfa, 0xed, 0xfe},
			{0xca, 0xfe, 0xba, 0xbe},
			{0xbe, 0xba, 0xfe, 0xca},
		}
		for _, magic := range machoMagics {
			if bytes.Equal(sniff[:4], magic) {
				return true
			}
		}
	}

	if sniff[0] == '#' && sniff[1] == '!' {
		return true // shebang scripts
	}

	return false
}

func trimMimeParams(contentType string) string {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		return strings.TrimSpace(contentType[:idx])
	}
	return strings.TrimSpace(contentType)
}
