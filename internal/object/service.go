package object

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/modelvault/service/internal/auth"
	"github.com/modelvault/service/internal/storage"
)

// Records is the persistence the service needs; *Repository implements it.
type Records interface {
	Insert(ctx context.Context, obj *Object) error
	GetByID(ctx context.Context, id int64) (*Object, error)
	GetOwned(ctx context.Context, id, ownerID int64) (*Object, error)
	ListByOwner(ctx context.Context, ownerID int64, search string) ([]*Object, error)
	StatsByOwner(ctx context.Context, ownerID int64) (Stats, error)
	Update(ctx context.Context, id, ownerID int64, in UpdateInput) (*Object, error)
	Delete(ctx context.Context, id, ownerID int64) error
}

const maxTitleLength = 100

// Service contains the business logic for objects.
type Service struct {
	records     Records
	storage     *storage.Router
	maxFileSize int64
}

// NewService creates a new object Service. maxFileSize bounds the primary upload.
func NewService(records Records, router *storage.Router, maxFileSize int64) *Service {
	return &Service{records: records, storage: router, maxFileSize: maxFileSize}
}

// Create validates in, writes the primary and companion files to the active
// backend and records the object. Blobs written before a failure are removed.
func (s *Service) Create(ctx context.Context, caller auth.Identity, in CreateInput) (*Object, error) {
	if !caller.Authenticated() {
		return nil, newError(KindUnauthenticated, "Authentication required", auth.ErrUnauthenticated)
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, validationError("Missing or invalid required fields")
	}
	if len([]rune(title)) > maxTitleLength {
		return nil, validationError(fmt.Sprintf("Title must be at most %d characters", maxTitleLength))
	}
	kind, ok := ParseFileKind(in.FileKind)
	if !ok {
		return nil, validationError("Missing or invalid required fields")
	}
	if in.Primary == nil || in.Primary.Body == nil {
		return nil, validationError("File upload error")
	}
	if in.Primary.Size <= 0 {
		return nil, validationError("File upload error")
	}
	if in.Primary.Size > s.maxFileSize {
		return nil, validationError("File size exceeds maximum allowed size")
	}
	ext := extension(in.Primary.Filename)
	if _, ok := ParseFileKind(ext); !ok {
		return nil, validationError("Invalid file extension")
	}
	if FileKind(ext) != kind {
		return nil, validationError("File extension does not match the selected file type")
	}

	logger := zerolog.Ctx(ctx)
	backend := s.storage.Writer()
	id := storage.NewIdentifier()

	var rb rollback
	defer func() {
		if rbErr := rb.run(ctx); rbErr != nil {
			logger.Error().Err(rbErr).Str("identifier", id).Msg("create: rollback incomplete")
		}
	}()

	// The declared size is not trusted; one byte past the cap is enough to reject.
	body := io.LimitReader(in.Primary.Body, s.maxFileSize+1)
	primary, err := backend.Put(ctx, storage.PrimaryName(id, ext), body, in.Primary.Size)
	if err != nil {
		return nil, newError(KindBackendWrite, "Failed to save uploaded file", err)
	}
	rb.add(primary.Ref, s.undoPut(primary))
	if primary.Size == 0 {
		return nil, validationError("File upload error")
	}
	if primary.Size > s.maxFileSize {
		return nil, validationError("File size exceeds maximum allowed size")
	}

	related := make([]RelatedFile, 0, len(in.Related))
	for _, up := range in.Related {
		rext := extension(up.Filename)
		rkind, ok := ParseFileKind(rext)
		if !ok || up.Body == nil {
			logger.Debug().Str("file", up.Filename).Msg("create: skipping related file with disallowed extension")
			continue
		}
		blob, err := backend.Put(ctx, storage.RelatedName(id, len(related), rext), up.Body, up.Size)
		if err != nil {
			return nil, newError(KindBackendWrite, "Failed to save uploaded file", err)
		}
		rb.add(blob.Ref, s.undoPut(blob))
		related = append(related, RelatedFile{
			OriginalName: up.Filename,
			FileRef:      blob.Ref,
			Backend:      blob.Backend,
			FileKind:     rkind,
			FileSize:     blob.Size,
		})
	}

	obj := &Object{
		OwnerID:       caller.UserID,
		OwnerUsername: caller.Username,
		Title:         title,
		Description:   optionalText(in.Description),
		FileRef:       primary.Ref,
		Backend:       primary.Backend,
		FileKind:      kind,
		FileSize:      primary.Size,
		RelatedFiles:  related,
	}
	if err := s.records.Insert(ctx, obj); err != nil {
		return nil, newError(KindPersist, "Failed to save object information", err)
	}
	rb.discharge()

	logger.Info().Int64("object_id", obj.ID).Str("file", obj.FileRef).Int("related", len(related)).Msg("object created")
	s.resolveURLs(obj)
	return obj, nil
}

// Get returns any object by id. Reads are public.
func (s *Service) Get(ctx context.Context, id int64) (*Object, error) {
	obj, err := s.records.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, newError(KindNotFound, "Object not found", err)
		}
		return nil, newError(KindInternal, "Failed to retrieve object", err)
	}
	s.resolveURLs(obj)
	return obj, nil
}

// List returns the caller's objects, newest first, optionally filtered by a
// case-insensitive search over title and description.
func (s *Service) List(ctx context.Context, caller auth.Identity, search string) ([]*Object, error) {
	if !caller.Authenticated() {
		return nil, newError(KindUnauthenticated, "Authentication required", auth.ErrUnauthenticated)
	}
	objects, err := s.records.ListByOwner(ctx, caller.UserID, strings.TrimSpace(search))
	if err != nil {
		return nil, newError(KindInternal, "Failed to retrieve objects", err)
	}
	for _, obj := range objects {
		s.resolveURLs(obj)
	}
	return objects, nil
}

// Stats summarises the caller's stored objects.
func (s *Service) Stats(ctx context.Context, caller auth.Identity) (Stats, error) {
	if !caller.Authenticated() {
		return Stats{}, newError(KindUnauthenticated, "Authentication required", auth.ErrUnauthenticated)
	}
	st, err := s.records.StatsByOwner(ctx, caller.UserID)
	if err != nil {
		return Stats{}, newError(KindInternal, "Failed to retrieve statistics", err)
	}
	return st, nil
}

// Update changes title and/or description of an object the caller owns.
// Ownership is checked before the input so strangers learn nothing about it.
func (s *Service) Update(ctx context.Context, caller auth.Identity, id int64, in UpdateInput) (*Object, error) {
	if !caller.Authenticated() {
		return nil, newError(KindUnauthenticated, "Authentication required", auth.ErrUnauthenticated)
	}
	if _, err := s.records.GetOwned(ctx, id, caller.UserID); err != nil {
		return nil, s.ownedLookupError(err)
	}

	if in.Title == nil && in.Description == nil {
		return nil, newError(KindNoFieldsProvided, "No fields to update", nil)
	}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, validationError("Title cannot be empty")
		}
		if len([]rune(title)) > maxTitleLength {
			return nil, validationError(fmt.Sprintf("Title must be at most %d characters", maxTitleLength))
		}
		in.Title = &title
	}

	obj, err := s.records.Update(ctx, id, caller.UserID, in)
	if err != nil {
		return nil, s.ownedLookupError(err)
	}
	s.resolveURLs(obj)
	return obj, nil
}

// Delete removes an object the caller owns together with its files. Files
// that cannot be removed are logged and do not block the delete.
func (s *Service) Delete(ctx context.Context, caller auth.Identity, id int64) error {
	if !caller.Authenticated() {
		return newError(KindUnauthenticated, "Authentication required", auth.ErrUnauthenticated)
	}
	obj, err := s.records.GetByID(ctx, id)
	if err != nil {
		return s.ownedLookupError(err)
	}
	if err := auth.RequireOwnership(obj.OwnerID, caller.UserID); err != nil {
		return newError(KindNotFoundOrForbidden, "Object not found or access denied", err)
	}

	if err := s.deleteFiles(ctx, obj); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Int64("object_id", obj.ID).Msg("delete: some files were not removed")
	}

	if err := s.records.Delete(ctx, id, caller.UserID); err != nil {
		return s.ownedLookupError(err)
	}
	return nil
}

// PurgeOwner removes the stored files of every object ownerID has. The rows
// themselves go with the owner's account.
func (s *Service) PurgeOwner(ctx context.Context, ownerID int64) error {
	objects, err := s.records.ListByOwner(ctx, ownerID, "")
	if err != nil {
		return fmt.Errorf("list objects of user %d: %w", ownerID, err)
	}
	var result *multierror.Error
	for _, obj := range objects {
		if err := s.deleteFiles(ctx, obj); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *Service) deleteFiles(ctx context.Context, obj *Object) error {
	var result *multierror.Error
	if err := s.storage.Delete(ctx, obj.Backend, obj.FileRef); err != nil {
		result = multierror.Append(result, err)
	}
	for _, rf := range obj.RelatedFiles {
		if err := s.storage.Delete(ctx, rf.Backend, rf.FileRef); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *Service) undoPut(b storage.Blob) func(context.Context) error {
	return func(ctx context.Context) error {
		return s.storage.Delete(ctx, b.Backend, b.Ref)
	}
}

func (s *Service) ownedLookupError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return newError(KindNotFoundOrForbidden, "Object not found or access denied", err)
	}
	return newError(KindInternal, "Failed to access object", err)
}

// resolveURLs fills the display URLs for obj and its related files.
func (s *Service) resolveURLs(obj *Object) {
	obj.FileURL = s.storage.ResolveForDisplay(obj.Backend, obj.FileRef)
	if obj.RelatedFiles == nil {
		obj.RelatedFiles = make([]RelatedFile, 0)
	}
	for i := range obj.RelatedFiles {
		rf := &obj.RelatedFiles[i]
		rf.FileURL = s.storage.ResolveForDisplay(rf.Backend, rf.FileRef)
	}
}

func optionalText(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
