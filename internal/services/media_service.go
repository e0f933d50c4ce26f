package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/storage"
	"github.com/watchfix/api/internal/platform/textutil"
	"github.com/watchfix/api/internal/repositories"
)

const (
	mediaEventPresigned  = "media.presigned"
	mediaEventRegistered = "media.registered"
	mediaEventDeleted    = "media.deleted"
	mediaEventGone       = "media.object_missing"

	defaultUploadURLTTL   = 15 * time.Minute
	defaultDownloadURLTTL = time.Hour
	maxFilenameLength     = 255
)

// MediaServiceDeps wires the media service.
type MediaServiceDeps struct {
	Media          repositories.MediaRepository
	Requests       repositories.ServiceRequestRepository
	Shops          repositories.ShopRepository
	Signer         URLSigner
	Objects        ObjectStore
	Settings       SettingsService
	DefaultShopID  int64
	UploadURLTTL   time.Duration
	DownloadURLTTL time.Duration
	Clock          func() time.Time
	Logger         func(ctx context.Context, event string, fields map[string]any)
}

type mediaService struct {
	media       repositories.MediaRepository
	requests    repositories.ServiceRequestRepository
	shops       shopResolver
	signer      URLSigner
	objects     ObjectStore
	settings    SettingsService
	uploadTTL   time.Duration
	downloadTTL time.Duration
	clock       func() time.Time
	logger      func(context.Context, string, map[string]any)
}

var _ MediaService = (*mediaService)(nil)

// NewMediaService constructs a MediaService.
func NewMediaService(deps MediaServiceDeps) (MediaService, error) {
	switch {
	case deps.Media == nil || deps.Requests == nil || deps.Shops == nil:
		return nil, errors.New("media service: repositories are required")
	case deps.Signer == nil:
		return nil, errors.New("media service: url signer is required")
	case deps.Objects == nil:
		return nil, errors.New("media service: object store is required")
	case deps.Settings == nil:
		return nil, errors.New("media service: settings service is required")
	}
	svc := &mediaService{
		media:       deps.Media,
		requests:    deps.Requests,
		shops:       shopResolver{shops: deps.Shops, defaultID: deps.DefaultShopID},
		signer:      deps.Signer,
		objects:     deps.Objects,
		settings:    deps.Settings,
		uploadTTL:   deps.UploadURLTTL,
		downloadTTL: deps.DownloadURLTTL,
		logger:      deps.Logger,
	}
	if svc.uploadTTL <= 0 {
		svc.uploadTTL = defaultUploadURLTTL
	}
	if svc.downloadTTL <= 0 {
		svc.downloadTTL = defaultDownloadURLTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc.clock = func() time.Time { return clock().UTC() }
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}
	return svc, nil
}

// Presign issues an upload URL. Without a request id the key is unbound under the resolved shop;
// with one the key is bound to that request directly and the caller must be able to see it.
func (s *mediaService) Presign(ctx context.Context, actor Principal, cmd PresignCommand) (PresignResult, error) {
	if err := requireRole(actor, domain.RoleCustomer, domain.RoleDelivery, domain.RoleAdmin); err != nil {
		return PresignResult{}, err
	}
	if !cmd.Type.Valid() {
		return PresignResult{}, validation(CodeValidation, "type must be one of image, video, voice")
	}
	filename := strings.TrimSpace(cmd.Filename)
	contentType := strings.TrimSpace(cmd.ContentType)
	if filename == "" || contentType == "" {
		return PresignResult{}, validation(CodeValidation, "filename and content_type are required")
	}

	var key storage.MediaKey
	if cmd.RequestID != nil {
		request, err := visibleRequest(ctx, s.requests, actor, *cmd.RequestID)
		if err != nil {
			return PresignResult{}, err
		}
		unbound, err := storage.NewUnboundMediaKey(request.ShopID, cmd.Type, filename)
		if err != nil {
			return PresignResult{}, validation(CodeInvalidMedia, err.Error())
		}
		if key, err = unbound.Bind(request.ID); err != nil {
			return PresignResult{}, validation(CodeInvalidMedia, err.Error())
		}
	} else {
		shop, err := s.shops.resolve(ctx, cmd.ShopID)
		if err != nil {
			return PresignResult{}, err
		}
		if key, err = storage.NewUnboundMediaKey(shop.ID, cmd.Type, filename); err != nil {
			return PresignResult{}, validation(CodeInvalidMedia, err.Error())
		}
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return PresignResult{}, err
	}
	signed, err := s.signer.PresignUpload(ctx, key.String(), storage.UploadOptions{
		ContentType: contentType,
		MaxSize:     settings.MaxMediaBytes,
		ExpiresIn:   s.uploadTTL,
	})
	if err != nil {
		return PresignResult{}, wrapError(ErrUpstream, CodeStorage, "failed to generate upload url", err)
	}
	s.logger(ctx, mediaEventPresigned, map[string]any{
		"key": key.String(), "role": string(actor.Role), "actorId": actor.ID,
	})
	return PresignResult{
		URL:       signed.URL,
		Method:    signed.Method,
		Headers:   signed.Headers,
		Key:       key.String(),
		ExpiresAt: signed.ExpiresAt,
		ExpiresIn: s.uploadTTL,
	}, nil
}

// Register records an uploaded object as unbound media owned by the caller.
func (s *mediaService) Register(ctx context.Context, actor Principal, cmd RegisterMediaCommand) (Media, error) {
	if err := requireRole(actor, domain.RoleCustomer, domain.RoleDelivery, domain.RoleAdmin); err != nil {
		return Media{}, err
	}
	key, err := storage.ParseMediaKey(cmd.Key)
	if err != nil {
		return Media{}, validation(CodeInvalidMedia, "s3_key is not a valid media key")
	}
	if key.Binding.IsBound() {
		return Media{}, validation(CodeInvalidMedia, "s3_key already belongs to a request")
	}
	if key.Type != cmd.Type {
		return Media{}, validation(CodeInvalidMedia, fmt.Sprintf("s3_key is not a %s key", cmd.Type))
	}
	if cmd.SizeBytes < 0 {
		return Media{}, validation(CodeValidation, "size_bytes must not be negative")
	}
	if cmd.DurationSeconds != nil && *cmd.DurationSeconds < 0 {
		return Media{}, validation(CodeValidation, "duration_seconds must not be negative")
	}

	settings, err := s.settings.Current(ctx)
	if err != nil {
		return Media{}, err
	}
	if err := checkMediaLimits(settings, cmd.Type, cmd.SizeBytes, cmd.DurationSeconds); err != nil {
		return Media{}, err
	}

	attrs, err := s.objects.Head(ctx, key.String())
	if err != nil {
		if isObjectNotFound(err) {
			return Media{}, validation(CodeFileNotFound, "file not found in storage, upload it first")
		}
		return Media{}, wrapError(ErrUpstream, CodeStorage, "failed to inspect uploaded file", err)
	}
	size := cmd.SizeBytes
	if attrs.Size > 0 {
		size = attrs.Size
		if err := checkMediaLimits(settings, cmd.Type, size, nil); err != nil {
			return Media{}, err
		}
	}

	media, err := s.media.Insert(ctx, domain.Media{
		Binding:          domain.Unbound(),
		UploaderType:     domain.UploaderTypeForRole(actor.Role),
		UploaderID:       actor.ID,
		Type:             cmd.Type,
		Key:              key.String(),
		OriginalFilename: textutil.CleanText(cmd.OriginalFilename, maxFilenameLength),
		SizeBytes:        size,
		DurationSeconds:  cmd.DurationSeconds,
		CreatedAt:        s.clock(),
	})
	if err != nil {
		if isConflict(err) {
			return Media{}, wrapError(ErrConflict, CodeConflict, "media key is already registered", err)
		}
		return Media{}, mapRepositoryError(err, "media")
	}
	s.logger(ctx, mediaEventRegistered, map[string]any{
		"mediaId": media.ID, "uploaderType": string(media.UploaderType), "uploaderId": media.UploaderID,
	})
	return media, nil
}

func (s *mediaService) ListByRequest(ctx context.Context, actor Principal, requestID int64) ([]MediaView, error) {
	if err := requireRole(actor, domain.RoleCustomer, domain.RoleDelivery, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if _, err := visibleRequest(ctx, s.requests, actor, requestID); err != nil {
		return nil, err
	}
	media, err := s.media.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, mapRepositoryError(err, "media")
	}
	return signMedia(ctx, s.signer, s.downloadTTL, media)
}

// Delete removes the object and then its row. An object already gone from the bucket does not
// block removing the row.
func (s *mediaService) Delete(ctx context.Context, actor Principal, mediaID int64) error {
	if err := requireRole(actor, domain.RoleAdmin); err != nil {
		return err
	}
	media, err := s.media.FindByID(ctx, mediaID)
	if err != nil {
		return mapRepositoryError(err, "media")
	}
	if err := s.objects.Delete(ctx, media.Key); err != nil {
		if !errors.Is(err, storage.ErrObjectNotFound) {
			return wrapError(ErrUpstream, CodeStorage, "failed to delete media object", err)
		}
		s.logger(ctx, mediaEventGone, map[string]any{"mediaId": media.ID, "key": media.Key})
	}
	if err := s.media.Delete(ctx, media.ID); err != nil {
		return mapRepositoryError(err, "media")
	}
	s.logger(ctx, mediaEventDeleted, map[string]any{"mediaId": media.ID, "adminId": actor.ID})
	return nil
}

func checkMediaLimits(settings Settings, mediaType domain.MediaType, size int64, duration *int) error {
	if settings.MaxMediaBytes > 0 && size > settings.MaxMediaBytes {
		return validation(CodeValidation, fmt.Sprintf("file exceeds the maximum size of %d bytes", settings.MaxMediaBytes))
	}
	if duration == nil {
		return nil
	}
	switch mediaType {
	case domain.MediaVideo:
		if *duration > settings.MaxVideoDuration {
			return validation(CodeValidation, fmt.Sprintf("video exceeds the maximum duration of %d seconds", settings.MaxVideoDuration))
		}
	case domain.MediaVoice:
		if *duration > settings.MaxVoiceDuration {
			return validation(CodeValidation, fmt.Sprintf("voice note exceeds the maximum duration of %d seconds", settings.MaxVoiceDuration))
		}
	}
	return nil
}

// visibleRequest loads the request and hides it as not found from principals who may not read it.
func visibleRequest(ctx context.Context, requests repositories.ServiceRequestRepository, actor Principal, requestID int64) (ServiceRequest, error) {
	request, err := requests.FindByID(ctx, requestID)
	if err != nil {
		return ServiceRequest{}, mapRepositoryError(err, "service request")
	}
	if !request.VisibleTo(actor) {
		return ServiceRequest{}, notFound("service request")
	}
	return request, nil
}

func signMedia(ctx context.Context, signer URLSigner, ttl time.Duration, media []domain.Media) ([]MediaView, error) {
	views := make([]MediaView, 0, len(media))
	for _, item := range media {
		signed, err := signer.PresignDownload(ctx, item.Key, ttl)
		if err != nil {
			return nil, wrapError(ErrUpstream, CodeStorage, "failed to generate download url", err)
		}
		views = append(views, MediaView{Media: item, URL: signed.URL, URLExpiresAt: signed.ExpiresAt})
	}
	return views, nil
}
