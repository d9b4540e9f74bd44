package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/ragdesk/internal/models"
)

type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

const workspaceColumns = `id, name, description, metadata, version, created_at, updated_at`

const documentColumns = `id, workspace_id, name, content_type, size_bytes, status, error, blob_path, chunk_count, metadata, created_at, updated_at`

func scanWorkspace(row pgx.Row) (*models.Workspace, error) {
	var ws models.Workspace
	err := row.Scan(&ws.ID, &ws.Name, &ws.Description, &ws.Metadata, &ws.Version, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &ws, nil
}

func scanDocument(row pgx.Row) (*models.Document, error) {
	var d models.Document
	err := row.Scan(&d.ID, &d.WorkspaceID, &d.Name, &d.ContentType, &d.SizeBytes, &d.Status, &d.Error,
		&d.BlobPath, &d.ChunkCount, &d.Metadata, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, ErrNotFound)
	}
	return fmt.Errorf("get %s: %w", what, err)
}

func (p *Postgres) ListWorkspaces(ctx context.Context) ([]models.Workspace, error) {
	rows, err := p.db.Query(ctx, `SELECT `+workspaceColumns+` FROM workspaces ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list workspaces: %w", err)
	}
	defer rows.Close()

	list := []models.Workspace{}
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace: %w", err)
		}
		list = append(list, *ws)
	}
	return list, rows.Err()
}

func (p *Postgres) GetWorkspace(ctx context.Context, id string) (*models.Workspace, error) {
	ws, err := scanWorkspace(p.db.QueryRow(ctx, `SELECT `+workspaceColumns+` FROM workspaces WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "workspace", id)
	}
	return ws, nil
}

func (p *Postgres) CreateWorkspace(ctx context.Context, ws *models.Workspace) error {
	if ws.ID == "" {
		ws.ID = uuid.NewString()
	}
	err := p.db.QueryRow(ctx,
		`INSERT INTO workspaces (id, name, description, metadata)
		 VALUES ($1, $2, $3, $4)
		 RETURNING version, created_at, updated_at`,
		ws.ID, ws.Name, ws.Description, ws.Metadata,
	).Scan(&ws.Version, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert workspace: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateWorkspace(ctx context.Context, id string, patch WorkspacePatch, expectVersion int64) (*models.Workspace, error) {
	ws, err := scanWorkspace(p.db.QueryRow(ctx,
		`UPDATE workspaces SET
		   name = COALESCE($2, name),
		   description = COALESCE($3, description),
		   metadata = COALESCE($4, metadata),
		   version = version + 1,
		   updated_at = now()
		 WHERE id = $1 AND ($5::bigint = 0 OR version = $5)
		 RETURNING `+workspaceColumns,
		id, patch.Name, patch.Description, patch.Metadata, expectVersion,
	))
	if err == nil {
		return ws, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update workspace: %w", err)
	}

	// No row matched: either it is gone or the version moved on.
	var version int64
	if err := p.db.QueryRow(ctx, `SELECT version FROM workspaces WHERE id = $1`, id).Scan(&version); err != nil {
		return nil, notFound(err, "workspace", id)
	}
	return nil, fmt.Errorf("workspace %s at version %d: %w", id, version, ErrVersionMismatch)
}

func (p *Postgres) DeleteWorkspace(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete workspace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("workspace %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) CreateDocument(ctx context.Context, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.Status == "" {
		doc.Status = models.DocStatusPending
	}
	var exists bool
	if err := p.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM workspaces WHERE id = $1)`, doc.WorkspaceID).Scan(&exists); err != nil {
		return fmt.Errorf("check workspace: %w", err)
	}
	if !exists {
		return fmt.Errorf("workspace %s: %w", doc.WorkspaceID, ErrNotFound)
	}

	err := p.db.QueryRow(ctx,
		`INSERT INTO documents (id, workspace_id, name, content_type, size_bytes, status, blob_path, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING created_at, updated_at`,
		doc.ID, doc.WorkspaceID, doc.Name, doc.ContentType, doc.SizeBytes, doc.Status, doc.BlobPath, doc.Metadata,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (p *Postgres) GetDocument(ctx context.Context, workspaceID, id string) (*models.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	args := []any{id}
	if workspaceID != "" {
		q += ` AND workspace_id = $2`
		args = append(args, workspaceID)
	}
	doc, err := scanDocument(p.db.QueryRow(ctx, q, args...))
	if err != nil {
		return nil, notFound(err, "document", id)
	}
	return doc, nil
}

func (p *Postgres) ListDocuments(ctx context.Context, workspaceID string, f DocumentFilter) ([]models.Document, int, error) {
	if _, err := p.GetWorkspace(ctx, workspaceID); err != nil {
		return nil, 0, err
	}

	where := `WHERE workspace_id = $1 AND ($2 = '' OR status = $2)`
	var total int
	if err := p.db.QueryRow(ctx, `SELECT count(*) FROM documents `+where, workspaceID, f.Status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents `+where+` ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`,
		workspaceID, f.Status, limit, f.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *d)
	}
	return docs, total, rows.Err()
}

func (p *Postgres) UpdateDocumentStatus(ctx context.Context, id, status, errMsg string, chunkCount int) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE documents SET status = $2, error = $3, chunk_count = $4, updated_at = now() WHERE id = $1`,
		id, status, errMsg, chunkCount,
	)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) DeleteDocument(ctx context.Context, workspaceID, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND workspace_id = $2`, id, workspaceID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

func (p *Postgres) ReplaceChunks(ctx context.Context, documentID string, chunks []models.DocumentChunk) error {
	return pgx.BeginFunc(ctx, p.db, func(tx pgx.Tx) error {
		var workspaceID string
		err := tx.QueryRow(ctx, `SELECT workspace_id FROM documents WHERE id = $1 FOR UPDATE`, documentID).Scan(&workspaceID)
		if err != nil {
			return notFound(err, "document", documentID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if len(chunks) == 0 {
			return nil
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"document_chunks"},
			[]string{"id", "document_id", "workspace_id", "chunk_index", "content"},
			pgx.CopyFromSlice(len(chunks), func(i int) ([]any, error) {
				id := chunks[i].ID
				if id == "" {
					id = uuid.NewString()
				}
				return []any{id, documentID, workspaceID, chunks[i].ChunkIndex, chunks[i].Content}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("copy chunks: %w", err)
		}
		return nil
	})
}

// SearchChunks matches any query term through the chunk tsvector and ranks
// with ts_rank normalised into (0, 1).
func (p *Postgres) SearchChunks(ctx context.Context, workspaceID, query string, topK int) ([]ScoredChunk, error) {
	terms := Terms(query)
	if len(terms) == 0 {
		return []ScoredChunk{}, nil
	}
	if topK <= 0 {
		topK = 5
	}
	tsq := strings.Join(terms, " | ")

	rows, err := p.db.Query(ctx,
		`SELECT c.id, c.document_id, c.workspace_id, c.chunk_index, c.content, c.created_at, d.name,
		        ts_rank(c.tsv, to_tsquery('simple', $2), 32) AS score
		 FROM document_chunks c
		 JOIN documents d ON d.id = c.document_id
		 WHERE c.workspace_id = $1 AND c.tsv @@ to_tsquery('simple', $2)
		 ORDER BY score DESC, d.name, c.chunk_index
		 LIMIT $3`,
		workspaceID, tsq, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}
	defer rows.Close()

	hits := []ScoredChunk{}
	for rows.Next() {
		var h ScoredChunk
		var score float32
		if err := rows.Scan(&h.ID, &h.DocumentID, &h.WorkspaceID, &h.ChunkIndex, &h.Content, &h.CreatedAt, &h.DocumentName, &score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		h.Score = float64(score)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.Ping(ctx)
}

func (p *Postgres) Close() {
	p.db.Close()
}
