// Package proof accepts payment and payout proof files and stores them in
// object storage. The settlement core only keeps the returned URL.
package proof

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tokenbridge/settlement-api/internal/pkg/actor"
	"github.com/tokenbridge/settlement-api/internal/pkg/apperr"
	"github.com/tokenbridge/settlement-api/internal/pkg/imaging"
	"github.com/tokenbridge/settlement-api/internal/pkg/storage"
)

type Upload struct {
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

type Service struct {
	storage   storage.Storage
	processor *imaging.Processor
	maxSize   int64
}

func NewService(st storage.Storage, processor *imaging.Processor) *Service {
	return &Service{
		storage:   st,
		processor: processor,
		maxSize:   storage.MaxSize(storage.CategoryProof),
	}
}

// MaxSize is the largest accepted proof in bytes.
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// Upload validates the sniffed content type and size, normalizes images and
// stores the result under proofs/<user>/.
func (s *Service) Upload(ctx context.Context, act actor.Actor, r io.Reader) (*Upload, error) {
	const op = "proof.upload"

	data, contentType, err := storage.ValidateFile(r, storage.CategoryProof, s.maxSize)
	switch {
	case errors.Is(err, storage.ErrEmptyFile):
		return nil, apperr.Validation(op, "file is empty")
	case errors.Is(err, storage.ErrFileTooLarge):
		return nil, apperr.Validation(op, "file exceeds %d MB", s.maxSize/(1024*1024))
	case errors.Is(err, storage.ErrInvalidMimeType):
		return nil, apperr.Validation(op, "only JPEG, PNG, WebP or PDF proofs are accepted")
	case err != nil:
		return nil, apperr.Internal(op, err)
	}

	if imaging.Supports(contentType) {
		img, err := s.processor.Process(bytes.NewReader(data), contentType)
		if err != nil {
			return nil, apperr.Validation(op, "image could not be decoded")
		}
		data = img.Data
	}

	key := path.Join("proofs", act.UserID.String(), uuid.NewString()+storage.GetExtensionForMime(contentType))
	if err := s.storage.Put(ctx, key, bytes.NewReader(data), contentType); err != nil {
		return nil, apperr.Internal(op, err)
	}

	log.Info().
		Str("user_id", act.UserID.String()).
		Str("key", key).
		Str("content_type", contentType).
		Int("size", len(data)).
		Msg("proof uploaded")

	return &Upload{
		Key:         key,
		URL:         s.storage.GetURL(key),
		ContentType: contentType,
		Size:        len(data),
	}, nil
}
