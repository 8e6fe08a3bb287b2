package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nuvex-backend-go/internal/core"
	"nuvex-backend-go/internal/models"
)

// multipartOverhead is the room left for form fields around the file part.
const multipartOverhead = 1 << 20

// StorageHandler handles the storage overview and client documents.
type StorageHandler struct {
	documents      core.DocumentService
	maxUploadBytes int64
	logger         *zap.Logger
}

// NewStorageHandler creates a new StorageHandler.
func NewStorageHandler(documents core.DocumentService, maxUploadBytes int64, logger *zap.Logger) *StorageHandler {
	return &StorageHandler{documents: documents, maxUploadBytes: maxUploadBytes, logger: logger}
}

// GetOverview handles GET /storage.
func (h *StorageHandler) GetOverview(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	overview, err := h.documents.StorageOverview(c.Request.Context(), accountID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

// UploadDocument handles POST /clients/:clientId/documents. The file travels in the
// "document" part; its type is sniffed from the content rather than trusted from the client.
func (h *StorageHandler) UploadDocument(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	if h.maxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+multipartOverhead)
	}

	fileHeader, err := c.FormFile("document")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, ErrorResponse{Error: "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Missing document file", Details: err.Error()})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Could not read document file"})
		return
	}
	defer file.Close()

	contentType, err := sniffContentType(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Could not read document file"})
		return
	}

	name := c.PostForm("documentName")
	if name == "" {
		name = fileHeader.Filename
	}
	req := models.UploadDocumentRequest{
		ClientID:     c.Param("clientId"),
		DocumentName: name,
		FileType:     contentType,
		Size:         fileHeader.Size,
		Tag:          c.PostForm("tag"),
		DueDate:      c.PostForm("dueDate"),
	}

	doc, err := h.documents.Upload(c.Request.Context(), accountID, req, file)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, doc)
}

// DownloadDocument handles GET /clients/:clientId/documents/:documentId/download.
func (h *StorageHandler) DownloadDocument(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	res, err := h.documents.Download(c.Request.Context(), accountID, c.Param("clientId"), c.Param("documentId"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// DeleteDocument handles DELETE /clients/:clientId/documents/:documentId.
func (h *StorageHandler) DeleteDocument(c *gin.Context) {
	accountID, ok := accountIDFrom(c)
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), accountID, c.Param("clientId"), c.Param("documentId")); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// sniffContentType detects the type from the first 512 bytes and rewinds the file.
func sniffContentType(f io.ReadSeeker) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}
	return http.DetectContentType(head[:n]), nil
}
