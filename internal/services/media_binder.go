package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/watchfix/api/internal/domain"
	"github.com/watchfix/api/internal/platform/storage"
	"github.com/watchfix/api/internal/repositories"
)

const (
	mediaEventRelocated       = "media.relocated"
	mediaEventCompensated     = "media.relocation_reverted"
	mediaEventCompensateError = "media.relocation_revert_failed"

	compensationTimeout = 30 * time.Second
)

// relocation is one object moved from its unbound key to its request-bound key.
type relocation struct {
	mediaID int64
	from    string
	to      string
}

// mediaBinder moves customer uploads under the request they were attached to. It runs inside the
// creation transaction; object moves cannot roll back with it, so callers revert the returned
// relocations when the transaction does not commit.
type mediaBinder struct {
	media   repositories.MediaRepository
	objects ObjectStore
	logger  func(context.Context, string, map[string]any)
}

// bind relocates and binds every media id to the request. It returns the relocations performed so
// far even when it fails part way.
func (b mediaBinder) bind(ctx context.Context, customerID, requestID int64, mediaIDs []int64) ([]relocation, error) {
	seen := make(map[int64]struct{}, len(mediaIDs))
	for _, id := range mediaIDs {
		if _, dup := seen[id]; dup {
			return nil, invalidMedia(id, "is listed more than once")
		}
		seen[id] = struct{}{}
	}

	var done []relocation
	for _, id := range mediaIDs {
		media, err := b.media.LockByID(ctx, id)
		if err != nil {
			if isNotFound(err) {
				return done, invalidMedia(id, "does not exist")
			}
			return done, mapRepositoryError(err, "media")
		}
		if !media.OwnedByCustomer(customerID) {
			return done, invalidMedia(id, "does not belong to the customer")
		}
		if media.Binding.IsBound() {
			return done, invalidMedia(id, "is already attached to a request")
		}
		key, err := storage.ParseMediaKey(media.Key)
		if err != nil {
			return done, invalidMedia(id, "has an unrecognised storage key")
		}
		bound, err := key.Bind(requestID)
		if err != nil {
			return done, invalidMedia(id, "cannot be attached to the request")
		}

		from, to := media.Key, bound.String()
		if err := b.objects.Copy(ctx, from, to); err != nil {
			return done, wrapError(ErrUpstream, CodeStorage, fmt.Sprintf("failed to relocate media %d", id), err)
		}
		done = append(done, relocation{mediaID: id, from: from, to: to})

		if err := b.media.Bind(ctx, id, to, requestID); err != nil {
			if isConflict(err) {
				return done, invalidMedia(id, "is already attached to a request")
			}
			return done, mapRepositoryError(err, "media")
		}
		if err := b.objects.Delete(ctx, from); err != nil {
			return done, wrapError(ErrUpstream, CodeStorage, fmt.Sprintf("failed to remove staged media %d", id), err)
		}
		b.logger(ctx, mediaEventRelocated, map[string]any{"mediaId": id, "requestId": requestID, "key": to})
	}
	return done, nil
}

// revert puts relocated objects back under their unbound keys, newest first. A relocated copy is
// only deleted once the original key holds the object again.
func (b mediaBinder) revert(ctx context.Context, relocations []relocation) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	for i := len(relocations) - 1; i >= 0; i-- {
		r := relocations[i]
		fields := map[string]any{"mediaId": r.mediaID, "from": r.to, "to": r.from}
		if err := b.objects.Copy(ctx, r.to, r.from); err != nil {
			fields["error"] = err.Error()
			b.logger(ctx, mediaEventCompensateError, fields)
			continue
		}
		if err := b.objects.Delete(ctx, r.to); err != nil {
			fields["error"] = err.Error()
			b.logger(ctx, mediaEventCompensateError, fields)
			continue
		}
		b.logger(ctx, mediaEventCompensated, fields)
	}
}

func invalidMedia(id int64, reason string) *Error {
	e := validation(CodeInvalidMedia, fmt.Sprintf("media %d %s", id, reason))
	e.Fields = map[string]string{"media_id": fmt.Sprint(id)}
	return e
}

// photoMedia validates a delivery proof photo uploaded against the request and returns its row.
func photoMedia(ctx context.Context, objects ObjectStore, request ServiceRequest, actor Principal, photoKey, filename string, at time.Time) (domain.Media, error) {
	key, err := storage.ParseMediaKey(photoKey)
	if err != nil {
		return domain.Media{}, validation(CodeInvalidMedia, "photo_s3_key is not a valid media key")
	}
	if key.Type != domain.MediaImage {
		return domain.Media{}, validation(CodeInvalidMedia, "photo_s3_key must reference an image")
	}
	if requestID, ok := key.Binding.RequestID(); !ok || requestID != request.ID {
		return domain.Media{}, validation(CodeInvalidMedia, "photo_s3_key was not issued for this request")
	}
	attrs, err := objects.Head(ctx, key.String())
	if err != nil {
		if isObjectNotFound(err) {
			return domain.Media{}, validation(CodeFileNotFound, "photo not found in storage, upload it first")
		}
		return domain.Media{}, wrapError(ErrUpstream, CodeStorage, "failed to inspect photo", err)
	}
	return domain.Media{
		Binding:          domain.BoundTo(request.ID),
		UploaderType:     domain.UploaderTypeForRole(actor.Role),
		UploaderID:       actor.ID,
		Type:             domain.MediaImage,
		Key:              key.String(),
		OriginalFilename: filename,
		SizeBytes:        attrs.Size,
		CreatedAt:        at,
	}, nil
}

func isObjectNotFound(err error) bool {
	return errors.Is(err, storage.ErrObjectNotFound)
}
