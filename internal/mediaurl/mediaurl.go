package mediaurl

import (
	"net/url"
	"strings"
)

const DefaultPathPrefix = "/uploads/"

// Builder derives the public URL of a stored image from its file name.
type Builder struct {
	baseURL    string
	pathPrefix string
}

// New returns a Builder that joins baseURL, pathPrefix and the file name.
// An empty baseURL yields host-relative URLs.
func New(baseURL, pathPrefix string) *Builder {
	pathPrefix = strings.TrimSpace(pathPrefix)
	if pathPrefix == "" {
		pathPrefix = DefaultPathPrefix
	}
	if !strings.HasPrefix(pathPrefix, "/") {
		pathPrefix = "/" + pathPrefix
	}
	if !strings.HasSuffix(pathPrefix, "/") {
		pathPrefix += "/"
	}

	return &Builder{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		pathPrefix: pathPrefix,
	}
}

func (b *Builder) URL(filename string) string {
	if filename == "" {
		return ""
	}
	return b.baseURL + b.pathPrefix + url.PathEscape(filename)
}
