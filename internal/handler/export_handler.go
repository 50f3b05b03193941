package handler

import (
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	appErrors "github.com/electivas-ubb/electivas-api/pkg/errors"
	"github.com/electivas-ubb/electivas-api/pkg/response"
	"github.com/electivas-ubb/electivas-api/pkg/storage"
)

// ExportHandler serves archived roster exports through signed links. The
// token signature is the only credential checked, so links keep working
// after the session that produced them expired.
type ExportHandler struct {
	store  *storage.LocalStorage
	signer *storage.SignedURLSigner
}

// NewExportHandler constructs ExportHandler.
func NewExportHandler(store *storage.LocalStorage, signer *storage.SignedURLSigner) *ExportHandler {
	return &ExportHandler{store: store, signer: signer}
}

// Download godoc
// @Summary Download an archived roster export through a signed link
// @Tags Electives
// @Produce text/csv
// @Produce application/pdf
// @Param token path string true "Signed download token"
// @Success 200 {file} byte
// @Router /exports/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	if h.store == nil || h.signer == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export downloads are not enabled"))
		return
	}

	_, relPath, _, err := h.signer.Parse(c.Param("token"))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download link"))
		return
	}

	path := h.store.Path(relPath)
	if _, err := os.Stat(path); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export no longer available"))
		return
	}
	c.FileAttachment(path, filepath.Base(relPath))
}
