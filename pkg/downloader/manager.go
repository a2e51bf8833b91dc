package downloader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"envrec/pkg/display"
)

// manager dispatches a Download call to the SchemeHandler registered for
// the URI's scheme.
type manager struct {
	handlers map[string]SchemeHandler
}

// NewDefaultDownloader returns the Downloader envrec's main wires up: HTTP
// and HTTPS only, matching §6's "wire protocol: HTTP GET only".
func NewDefaultDownloader() Downloader {
	m := &manager{handlers: make(map[string]SchemeHandler)}
	m.register(NewHTTPHandler())
	return m
}

func (m *manager) register(h SchemeHandler) {
	for _, scheme := range h.Schemes() {
		m.handlers[scheme] = h
	}
}

func (m *manager) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	u, err := url.Parse(uri)
	if err != nil {
		return fmt.Errorf("parsing uri %s: %w", uri, err)
	}

	scheme := strings.ToLower(u.Scheme)
	handler, ok := m.handlers[scheme]
	if !ok {
		return fmt.Errorf("unsupported scheme %q in %s", scheme, uri)
	}

	return handler.Download(ctx, uri, w, task)
}
