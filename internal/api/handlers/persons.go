package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facewatch/internal/match"
	"github.com/your-org/facewatch/internal/models"
	"github.com/your-org/facewatch/internal/recognize"
	"github.com/your-org/facewatch/internal/storage"
	"github.com/your-org/facewatch/pkg/dto"
)

type PersonHandler struct {
	store   storage.Store
	svc     *recognize.Service
	archive *storage.Archive // optional
}

func NewPersonHandler(store storage.Store, svc *recognize.Service, archive *storage.Archive) *PersonHandler {
	return &PersonHandler{store: store, svc: svc, archive: archive}
}

func parsePersonID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return 0, false
	}
	return id, true
}

func readImageFile(c *gin.Context) ([]byte, bool) {
	file, _, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file required"})
		return nil, false
	}
	defer file.Close()

	imageData, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "read image failed"})
		return nil, false
	}
	return imageData, true
}

// Create registers a person. JSON bodies carry a precomputed encoding,
// for clients that run their own embedding model; multipart forms carry
// a name field, an image file and an optional metadata field holding a
// JSON object.
func (h *PersonHandler) Create(c *gin.Context) {
	if c.ContentType() == "application/json" {
		h.createFromEncoding(c)
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}

	var metadata json.RawMessage
	if raw := c.PostForm("metadata"); raw != "" {
		if !json.Valid([]byte(raw)) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "metadata must be valid JSON"})
			return
		}
		metadata = json.RawMessage(raw)
	}

	imageData, ok := readImageFile(c)
	if !ok {
		return
	}

	person, err := h.svc.Register(c.Request.Context(), name, imageData, metadata)
	if err != nil {
		switch {
		case errors.Is(err, recognize.ErrNoProvider):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision models not loaded"})
		case errors.Is(err, recognize.ErrNoFace):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected in image"})
		case errors.Is(err, storage.ErrNameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("person %q already registered", name)})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, dto.NewPersonResponse(person))
}

func (h *PersonHandler) createFromEncoding(c *gin.Context) {
	var req dto.CreatePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name required"})
		return
	}
	if req.Metadata != nil && !json.Valid(req.Metadata) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metadata must be valid JSON"})
		return
	}

	person, err := h.svc.RegisterEncoding(c.Request.Context(), name, req.Encoding, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, match.ErrDimensionMismatch):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		case errors.Is(err, storage.ErrNameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("person %q already registered", name)})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, dto.NewPersonResponse(person))
}

// List returns all persons, most recently seen first. An optional q
// parameter filters by name substring.
func (h *PersonHandler) List(c *gin.Context) {
	var (
		persons []models.Person
		err     error
	)

	if q := strings.TrimSpace(c.Query("q")); q != "" {
		persons, err = h.store.SearchPersons(c.Request.Context(), q)
	} else {
		persons, err = h.store.ListPersons(c.Request.Context())
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.NewPersonListResponse(persons))
}

func (h *PersonHandler) Get(c *gin.Context) {
	id, ok := parsePersonID(c)
	if !ok {
		return
	}

	person, err := h.store.GetPerson(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.NewPersonResponse(person))
}

// Update applies a partial update to the person's name or metadata.
func (h *PersonHandler) Update(c *gin.Context) {
	id, ok := parsePersonID(c)
	if !ok {
		return
	}

	var req dto.UpdatePersonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name != nil && strings.TrimSpace(*req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name must not be empty"})
		return
	}
	if req.Metadata != nil && !json.Valid(req.Metadata) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "metadata must be valid JSON"})
		return
	}

	person, err := h.store.UpdatePerson(c.Request.Context(), id, req.Name, req.Metadata)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		case errors.Is(err, storage.ErrNameTaken):
			c.JSON(http.StatusConflict, gin.H{"error": "name already registered"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, dto.NewPersonResponse(person))
}

// Delete removes the person, their detection history, and any archived
// photos.
func (h *PersonHandler) Delete(c *gin.Context) {
	id, ok := parsePersonID(c)
	if !ok {
		return
	}

	if err := h.store.DeletePerson(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if h.archive != nil {
		if err := h.archive.DeletePersonPhotos(c.Request.Context(), id); err != nil {
			// The person row is gone; orphaned photos are reported, not fatal.
			c.JSON(http.StatusOK, gin.H{"status": "deleted", "warning": "photo cleanup failed"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// ReplaceEncoding re-enrolls the person from a newly uploaded photo.
func (h *PersonHandler) ReplaceEncoding(c *gin.Context) {
	id, ok := parsePersonID(c)
	if !ok {
		return
	}

	imageData, ok := readImageFile(c)
	if !ok {
		return
	}

	person, err := h.svc.ReplaceEncoding(c.Request.Context(), id, imageData)
	if err != nil {
		switch {
		case errors.Is(err, recognize.ErrNoProvider):
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "vision models not loaded"})
		case errors.Is(err, recognize.ErrNoFace):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "no face detected in image"})
		case errors.Is(err, storage.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, dto.NewPersonResponse(person))
}

// ListDetections returns the person's detection history, newest first.
func (h *PersonHandler) ListDetections(c *gin.Context) {
	id, ok := parsePersonID(c)
	if !ok {
		return
	}

	if _, err := h.store.GetPerson(c.Request.Context(), id); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	filter := storage.DetectionFilter{
		PersonID: &id,
		Limit:    limit,
		Offset:   offset,
	}
	if fromStr := c.Query("from"); fromStr != "" {
		if t, err := time.Parse(time.RFC3339, fromStr); err == nil {
			filter.From = &t
		}
	}
	if toStr := c.Query("to"); toStr != "" {
		if t, err := time.Parse(time.RFC3339, toStr); err == nil {
			filter.To = &t
		}
	}

	detections, total, err := h.store.ListDetections(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, dto.NewDetectionListResponse(detections, total))
}

// ListPhotos returns the archived enrollment photos for the person.
func (h *PersonHandler) ListPhotos(c *gin.Context) {
	id, ok := parsePersonID(c)
	if !ok {
		return
	}

	if h.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo archive not configured"})
		return
	}

	keys, err := h.archive.ListPersonPhotos(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	photos := make([]gin.H, 0, len(keys))
	for _, key := range keys {
		name := key[strings.LastIndex(key, "/")+1:]
		photos = append(photos, gin.H{
			"name": name,
			"url":  fmt.Sprintf("/v1/persons/%d/photos/%s", id, name),
		})
	}

	c.JSON(http.StatusOK, gin.H{"photos": photos, "total": len(photos)})
}

// GetPhoto proxies one archived photo from the object store.
func (h *PersonHandler) GetPhoto(c *gin.Context) {
	id, ok := parsePersonID(c)
	if !ok {
		return
	}

	name := c.Param("name")
	if name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid photo name"})
		return
	}

	if h.archive == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "photo archive not configured"})
		return
	}

	data, err := h.archive.Get(c.Request.Context(), storage.PersonPhotoObjectKey(id, name))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "photo not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}
