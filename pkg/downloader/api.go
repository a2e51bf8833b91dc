// Package downloader is envrec's sole HTTP client: every repodata and
// tarball fetch in pkg/channel goes through it. Per §6's wire protocol,
// that's "HTTP GET only; success = 2xx status" — there is no retry,
// redirect-following policy, or auth beyond what net/http does by default.
package downloader

import (
	"context"
	"io"

	"envrec/pkg/display"
)

// Downloader fetches the resource at uri into w, reporting progress and log
// lines through task.
type Downloader interface {
	Download(ctx context.Context, uri string, w io.Writer, task display.Task) error
}

// SchemeHandler downloads URIs for the schemes it declares. Only "http"/
// "https" are wired today (NewHTTPHandler); the seam exists so a future
// channel alias scheme (e.g. a local file:// mirror) has somewhere to plug
// in without touching pkg/channel.
type SchemeHandler interface {
	Download(ctx context.Context, uri string, w io.Writer, task display.Task) error
	Schemes() []string
}
