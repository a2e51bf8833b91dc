package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"envrec/pkg/display"

	"github.com/dustin/go-humanize"
)

type httpHandler struct {
	client *http.Client
}

// NewHTTPHandler returns the handler envrec registers by default for
// "http"/"https" channel URLs and tarball downloads.
func NewHTTPHandler() SchemeHandler {
	return &httpHandler{
		client: &http.Client{
			Timeout: 0, // cancellation goes through ctx, not a client-wide deadline
		},
	}
}

func (h *httpHandler) Schemes() []string {
	return []string{"http", "https"}
}

// Download performs a plain GET and streams the body into w, per §6's "HTTP
// GET only; success = 2xx status". Anything outside 2xx is reported in the
// shape §4.3 specifies: "fail to fetch <url>, code: <status>".
func (h *httpHandler) Download(ctx context.Context, uri string, w io.Writer, task display.Task) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return fmt.Errorf("building request for %s: %w", uri, err)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("fail to fetch %s, code: %d", uri, resp.StatusCode)
	}

	pw := &progressWriter{
		task:  task,
		total: resp.ContentLength,
		start: time.Now(),
	}

	if _, err := io.Copy(io.MultiWriter(w, pw), resp.Body); err != nil {
		return fmt.Errorf("reading body of %s: %w", uri, err)
	}
	return nil
}

// progressWriter mirrors every write into task.Progress as a humanized
// bytes-transferred/total-and-rate status line, so a large tarball download
// or repodata fetch shows live feedback instead of a silent pause.
type progressWriter struct {
	task    display.Task
	total   int64
	written int64
	start   time.Time
}

func (pw *progressWriter) Write(p []byte) (int, error) {
	n := len(p)
	pw.written += int64(n)

	if pw.total > 0 {
		percent := int((float64(pw.written) / float64(pw.total)) * 100)
		elapsed := time.Since(pw.start).Seconds()
		speed := float64(pw.written) / elapsed
		msg := fmt.Sprintf("%s / %s (%s/s)",
			humanize.Bytes(uint64(pw.written)),
			humanize.Bytes(uint64(pw.total)),
			humanize.Bytes(uint64(speed)))
		pw.task.Progress(percent, msg)
	} else {
		pw.task.Progress(0, fmt.Sprintf("%s downloaded", humanize.Bytes(uint64(pw.written))))
	}

	return n, nil
}
