package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/auth"
	"github.com/watchfix/api/internal/services"
)

type presignMediaRequest struct {
	Filename    string `json:"filename" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"required,max=255"`
	Type        string `json:"type" validate:"required,media_type"`
	ShopID      *int64 `json:"shop_id" validate:"omitempty,gt=0"`
	RequestID   *int64 `json:"request_id" validate:"omitempty,gt=0"`
}

type registerMediaRequest struct {
	Key              string `json:"s3_key" validate:"required"`
	Type             string `json:"type" validate:"required,media_type"`
	OriginalFilename string `json:"original_filename" validate:"required,max=255"`
	SizeBytes        int64  `json:"size_bytes" validate:"gte=0"`
	DurationSeconds  *int   `json:"duration_seconds" validate:"omitempty,gte=0"`
}

type presignMediaResponse struct {
	UploadURL string            `json:"upload_url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	Key       string            `json:"s3_key"`
	ExpiresAt time.Time         `json:"expires_at"`
	ExpiresIn int               `json:"expires_in"`
}

// MediaHandlers exposes upload signing, registration, listing and deletion of media.
type MediaHandlers struct {
	authn *auth.Authenticator
	media services.MediaService
}

// NewMediaHandlers constructs MediaHandlers.
func NewMediaHandlers(authn *auth.Authenticator, media services.MediaService) *MediaHandlers {
	return &MediaHandlers{authn: authn, media: media}
}

// Routes registers the /media endpoints.
func (h *MediaHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	anyRole := passThrough
	adminOnly := passThrough
	if h.authn != nil {
		anyRole = h.authn.RequireRole()
		adminOnly = h.authn.RequireRole(domain.RoleAdmin)
	}
	r.With(anyRole).Post("/presign", h.presign)
	r.With(anyRole).Post("/register", h.register)
	r.With(anyRole).Post("/", h.register)
	r.With(anyRole).Get("/request/{requestID}", h.listByRequest)
	r.With(adminOnly).Delete("/{mediaID}", h.deleteMedia)
}

func (h *MediaHandlers) presign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.media == nil {
		serviceUnavailable(ctx, w, "media")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload presignMediaRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	result, err := h.media.Presign(ctx, principal, services.PresignCommand{
		Filename:    payload.Filename,
		ContentType: payload.ContentType,
		Type:        domain.MediaType(payload.Type),
		ShopID:      payload.ShopID,
		RequestID:   payload.RequestID,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, presignMediaResponse{
		UploadURL: result.URL,
		Method:    result.Method,
		Headers:   result.Headers,
		Key:       result.Key,
		ExpiresAt: result.ExpiresAt,
		ExpiresIn: int(result.ExpiresIn / time.Second),
	})
}

func (h *MediaHandlers) register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.media == nil {
		serviceUnavailable(ctx, w, "media")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	var payload registerMediaRequest
	if !decodeBody(w, r, &payload, false) {
		return
	}
	media, err := h.media.Register(ctx, principal, services.RegisterMediaCommand{
		Key:              payload.Key,
		Type:             domain.MediaType(payload.Type),
		OriginalFilename: payload.OriginalFilename,
		SizeBytes:        payload.SizeBytes,
		DurationSeconds:  payload.DurationSeconds,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, map[string]any{"media": buildMediaView(media)})
}

func (h *MediaHandlers) listByRequest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.media == nil {
		serviceUnavailable(ctx, w, "media")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	requestID, ok := pathID(w, r, "requestID")
	if !ok {
		return
	}
	views, err := h.media.ListByRequest(ctx, principal, requestID)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"media": buildSignedMediaViews(views)})
}

func (h *MediaHandlers) deleteMedia(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.media == nil {
		serviceUnavailable(ctx, w, "media")
		return
	}
	principal, ok := requirePrincipal(w, r)
	if !ok {
		return
	}
	mediaID, ok := pathID(w, r, "mediaID")
	if !ok {
		return
	}
	if err := h.media.Delete(ctx, principal, mediaID); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
