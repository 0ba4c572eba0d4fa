package object

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/modelvault/service/internal/storage"
)

// ErrNotFound is returned when no row matches.
var ErrNotFound = errors.New("object not found")

// Repository handles all object database operations.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new Repository with the given connection pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// relatedFileRecord is the JSON shape of one entry in objects.related_files.
// Backend is absent on rows written before refs were tagged.
type relatedFileRecord struct {
	OriginalName string `json:"original_name"`
	FilePath     string `json:"file_path"`
	Backend      string `json:"backend,omitempty"`
	FileType     string `json:"file_type"`
	FileSize     int64  `json:"file_size"`
}

const selectObject = `
	SELECT o.id, o.user_id, u.username, o.title, o.description,
	       o.file_path, o.file_backend, o.file_type, o.file_size,
	       o.related_files, o.created_at, o.updated_at
	FROM objects o
	JOIN users u ON u.id = o.user_id`

// Insert stores obj and fills in its id and timestamps.
func (r *Repository) Insert(ctx context.Context, obj *Object) error {
	related, err := encodeRelated(obj.RelatedFiles)
	if err != nil {
		return err
	}
	err = r.db.QueryRow(ctx,
		`INSERT INTO objects (user_id, title, description, file_path, file_backend, file_type, file_size, related_files)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, created_at, updated_at`,
		obj.OwnerID, obj.Title, obj.Description, obj.FileRef, nullableKind(obj.Backend),
		string(obj.FileKind), obj.FileSize, related,
	).Scan(&obj.ID, &obj.CreatedAt, &obj.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert object: %w", err)
	}
	return nil
}

// GetByID fetches an object regardless of owner.
func (r *Repository) GetByID(ctx context.Context, id int64) (*Object, error) {
	return r.getOne(ctx, selectObject+` WHERE o.id = $1`, id)
}

// GetOwned fetches an object only if ownerID owns it.
func (r *Repository) GetOwned(ctx context.Context, id, ownerID int64) (*Object, error) {
	return r.getOne(ctx, selectObject+` WHERE o.id = $1 AND o.user_id = $2`, id, ownerID)
}

// ListByOwner returns the owner's objects, newest first. A non-empty search
// matches title or description case-insensitively.
func (r *Repository) ListByOwner(ctx context.Context, ownerID int64, search string) ([]*Object, error) {
	query := selectObject + ` WHERE o.user_id = $1`
	args := []any{ownerID}
	if search != "" {
		args = append(args, "%"+escapeLike(search)+"%")
		query += ` AND (o.title ILIKE $2 OR o.description ILIKE $2)`
	}
	query += ` ORDER BY o.created_at DESC, o.id DESC`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	defer rows.Close()

	objects := make([]*Object, 0)
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, err
		}
		objects = append(objects, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list objects: %w", err)
	}
	return objects, nil
}

// StatsByOwner counts the owner's objects and sums their primary file sizes.
func (r *Repository) StatsByOwner(ctx context.Context, ownerID int64) (Stats, error) {
	var s Stats
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(file_size), 0) FROM objects WHERE user_id = $1`,
		ownerID,
	).Scan(&s.ObjectCount, &s.TotalBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("object stats: %w", err)
	}
	return s, nil
}

// Update changes the given fields of an owned object and bumps updated_at.
func (r *Repository) Update(ctx context.Context, id, ownerID int64, in UpdateInput) (*Object, error) {
	var (
		sets []string
		args []any
	)
	if in.Title != nil {
		args = append(args, *in.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if in.Description != nil {
		args = append(args, *in.Description)
		sets = append(sets, fmt.Sprintf("description = $%d", len(args)))
	}
	if len(sets) == 0 {
		return r.GetOwned(ctx, id, ownerID)
	}
	args = append(args, id, ownerID)
	query := fmt.Sprintf(
		`UPDATE objects SET %s, updated_at = NOW() WHERE id = $%d AND user_id = $%d`,
		strings.Join(sets, ", "), len(args)-1, len(args),
	)

	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return r.GetOwned(ctx, id, ownerID)
}

// Delete removes an owned object row.
func (r *Repository) Delete(ctx context.Context, id, ownerID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM objects WHERE id = $1 AND user_id = $2`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) getOne(ctx context.Context, query string, args ...any) (*Object, error) {
	obj, err := scanObject(r.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return obj, err
}

func scanObject(row pgx.Row) (*Object, error) {
	var (
		obj      Object
		backend  *string
		fileKind string
		related  []byte
	)
	err := row.Scan(
		&obj.ID, &obj.OwnerID, &obj.OwnerUsername, &obj.Title, &obj.Description,
		&obj.FileRef, &backend, &fileKind, &obj.FileSize,
		&related, &obj.CreatedAt, &obj.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan object: %w", err)
	}
	if backend != nil {
		obj.Backend = storage.ParseKind(*backend)
	}
	obj.FileKind = FileKind(fileKind)
	obj.RelatedFiles, err = decodeRelated(related)
	if err != nil {
		return nil, fmt.Errorf("object %d: %w", obj.ID, err)
	}
	return &obj, nil
}

func encodeRelated(files []RelatedFile) ([]byte, error) {
	if len(files) == 0 {
		return nil, nil
	}
	records := make([]relatedFileRecord, len(files))
	for i, f := range files {
		records[i] = relatedFileRecord{
			OriginalName: f.OriginalName,
			FilePath:     f.FileRef,
			Backend:      string(f.Backend),
			FileType:     string(f.FileKind),
			FileSize:     f.FileSize,
		}
	}
	b, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("encode related files: %w", err)
	}
	return b, nil
}

func decodeRelated(raw []byte) ([]RelatedFile, error) {
	files := make([]RelatedFile, 0)
	if len(raw) == 0 || string(raw) == "null" {
		return files, nil
	}
	var records []relatedFileRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decode related files: %w", err)
	}
	for _, rec := range records {
		files = append(files, RelatedFile{
			OriginalName: rec.OriginalName,
			FileRef:      rec.FilePath,
			Backend:      storage.ParseKind(rec.Backend),
			FileKind:     FileKind(rec.FileType),
			FileSize:     rec.FileSize,
		})
	}
	return files, nil
}

func nullableKind(k storage.Kind) *string {
	if k == "" {
		return nil
	}
	s := string(k)
	return &s
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
