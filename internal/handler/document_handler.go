package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/credential-lifecycle-api/internal/service"
	"github.com/noah-isme/credential-lifecycle-api/pkg/response"
)

type documentResolver interface {
	Resolve(ctx context.Context, token string) (*service.ExportFile, error)
}

// DocumentHandler serves generated renewal documents behind signed tokens.
type DocumentHandler struct {
	documents documentResolver
}

// NewDocumentHandler constructs the handler.
func NewDocumentHandler(documents documentResolver) *DocumentHandler {
	return &DocumentHandler{documents: documents}
}

// Download godoc
// @Summary Download a prepared renewal document
// @Tags Documents
// @Produce application/pdf
// @Param token path string true "Signed download token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /documents/{token} [get]
func (h *DocumentHandler) Download(c *gin.Context) {
	file, err := h.documents.Resolve(c.Request.Context(), c.Param("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}
