package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"portal-voting-backend/repository"

	"github.com/gin-gonic/gin"
)

// GetAttachmentURL resolves an attachment's storage path to its public URL
// and bumps the view counter. Legacy rows holding bare object names or full
// URLs resolve the same way.
func GetAttachmentURL(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid attachment ID format"})
		return
	}

	attachment, err := repo.GetAttachment(c.Request.Context(), uint(id))
	if errors.Is(err, repository.ErrPollNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Attachment not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve attachment"})
		return
	}

	repo.BumpAttachmentCounter(c.Request.Context(), attachment.ID, "view_count")

	c.JSON(http.StatusOK, gin.H{
		"file_name": attachment.FileName,
		"mime_type": attachment.MimeType,
		"file_size": attachment.FileSize,
		"url":       fileStore.PublicURL(attachment.StoragePath),
	})
}

// DownloadAttachment redirects to the public URL and bumps the download
// counter.
func DownloadAttachment(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid attachment ID format"})
		return
	}

	attachment, err := repo.GetAttachment(c.Request.Context(), uint(id))
	if errors.Is(err, repository.ErrPollNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Attachment not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve attachment"})
		return
	}

	repo.BumpAttachmentCounter(c.Request.Context(), attachment.ID, "download_count")
	c.Redirect(http.StatusFound, fileStore.PublicURL(attachment.StoragePath))
}
