package webdav

import (
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/Ka0gaMi/vscode-typescript-web/internal/logging"
)

// Prefix is where the WebDAV tree is mounted.
const Prefix = "/webdav"

// NewHandler creates a read-only WebDAV handler for fsys rooted at root.
func NewHandler(fsys Filesystem, root string) http.Handler {
	log := logging.Named("webdav")
	return &webdav.Handler{
		FileSystem: NewFS(fsys, root),
		LockSystem: webdav.NewMemLS(),
		Prefix:     Prefix,
		Logger: func(r *http.Request, err error) {
			if err != nil {
				log.Debug("webdav request failed",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.String("request_id", logging.GetRequestID(r.Context())),
					zap.Error(err))
			}
		},
	}
}
