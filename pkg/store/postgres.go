package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/analogj/lodestone-pipeline/pkg/model"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id                      uuid PRIMARY KEY,
	name                    text NOT NULL,
	original_file_name      text NOT NULL,
	content_type            text NOT NULL,
	size_bytes              bigint NOT NULL,
	storage_bucket          text NOT NULL,
	storage_object_name     text NOT NULL,
	upload_time             timestamptz NOT NULL DEFAULT now(),
	ocr_status              text NOT NULL DEFAULT 'Pending',
	ocr_text                text,
	ocr_error               text,
	ocr_started_at          timestamptz,
	ocr_completed_at        timestamptz,
	summary_status          text NOT NULL DEFAULT 'Pending',
	summary_text            text,
	summary_error           text,
	summary_completed_at    timestamptz,
	virus_scan_status       text NOT NULL DEFAULT 'NotScanned',
	virus_scan_error        text,
	virus_scan_analysis_id  text,
	virus_scan_started_at   timestamptz,
	virus_scan_completed_at timestamptz,
	version                 bigint NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS ix_documents_upload_time ON documents (upload_time);
`

const documentColumns = `id, name, original_file_name, content_type, size_bytes, storage_bucket, storage_object_name, upload_time,
	ocr_status, ocr_text, ocr_error, ocr_started_at, ocr_completed_at,
	summary_status, summary_text, summary_error, summary_completed_at,
	virus_scan_status, virus_scan_error, virus_scan_analysis_id, virus_scan_started_at, virus_scan_completed_at,
	version`

// PostgresStore keeps document records in the documents table.
type PostgresStore struct {
	db     *sql.DB
	logger *logrus.Entry
}

var _ DocumentStore = (*PostgresStore)(nil)

func NewPostgresStore(ctx context.Context, logger *logrus.Entry, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	ps := &PostgresStore{db: db, logger: logger}
	if err := ps.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ps, nil
}

// Migrate creates the documents table when it does not exist.
func (ps *PostgresStore) Migrate(ctx context.Context) error {
	ps.logger.Debugln("Ensuring documents table exists")
	if _, err := ps.db.ExecContext(ctx, postgresSchema); err != nil {
		return fmt.Errorf("migrate documents table: %w", err)
	}
	return nil
}

func (ps *PostgresStore) Create(ctx context.Context, doc *model.Document) error {
	doc.Version = 1
	_, err := ps.db.ExecContext(ctx, `INSERT INTO documents (`+documentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
		doc.ID, doc.Name, doc.OriginalFileName, doc.ContentType, doc.SizeBytes, doc.StorageBucket, doc.StorageObjectName, doc.UploadTime,
		doc.OcrStatus, nullString(doc.OcrText), nullString(doc.OcrError), doc.OcrStartedAt, doc.OcrCompletedAt,
		doc.SummaryStatus, nullString(doc.SummaryText), nullString(doc.SummaryError), doc.SummaryCompletedAt,
		doc.VirusScanStatus, nullString(doc.VirusScanError), nullString(doc.VirusScanAnalysisID), doc.VirusScanStartedAt, doc.VirusScanCompletedAt,
		doc.Version,
	)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

func (ps *PostgresStore) Get(ctx context.Context, id string) (*model.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, model.ErrDocumentNotFound
	}

	row := ps.db.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

// Save writes every mutable column guarded by the version the document was read with.
func (ps *PostgresStore) Save(ctx context.Context, doc *model.Document) error {
	res, err := ps.db.ExecContext(ctx, `UPDATE documents SET
			name = $3, content_type = $4,
			ocr_status = $5, ocr_text = $6, ocr_error = $7, ocr_started_at = $8, ocr_completed_at = $9,
			summary_status = $10, summary_text = $11, summary_error = $12, summary_completed_at = $13,
			virus_scan_status = $14, virus_scan_error = $15, virus_scan_analysis_id = $16,
			virus_scan_started_at = $17, virus_scan_completed_at = $18,
			version = version + 1
		WHERE id = $1 AND version = $2`,
		doc.ID, doc.Version,
		doc.Name, doc.ContentType,
		doc.OcrStatus, nullString(doc.OcrText), nullString(doc.OcrError), doc.OcrStartedAt, doc.OcrCompletedAt,
		doc.SummaryStatus, nullString(doc.SummaryText), nullString(doc.SummaryError), doc.SummaryCompletedAt,
		doc.VirusScanStatus, nullString(doc.VirusScanError), nullString(doc.VirusScanAnalysisID),
		doc.VirusScanStartedAt, doc.VirusScanCompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update document %s: %w", doc.ID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := ps.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM documents WHERE id = $1)`, doc.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return model.ErrDocumentNotFound
		}
		return model.ErrVersionConflict
	}

	doc.Version++
	return nil
}

func (ps *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return model.ErrDocumentNotFound
	}

	res, err := ps.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return model.ErrDocumentNotFound
	}
	return nil
}

func (ps *PostgresStore) List(ctx context.Context) ([]*model.Document, error) {
	rows, err := ps.db.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents ORDER BY upload_time DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := []*model.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

func (ps *PostgresStore) Close() error {
	return ps.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var doc model.Document
	var ocrText, ocrError, summaryText, summaryError, virusError, virusAnalysis sql.NullString
	var ocrStarted, ocrCompleted, summaryCompleted, virusStarted, virusCompleted sql.NullTime

	err := row.Scan(
		&doc.ID, &doc.Name, &doc.OriginalFileName, &doc.ContentType, &doc.SizeBytes, &doc.StorageBucket, &doc.StorageObjectName, &doc.UploadTime,
		&doc.OcrStatus, &ocrText, &ocrError, &ocrStarted, &ocrCompleted,
		&doc.SummaryStatus, &summaryText, &summaryError, &summaryCompleted,
		&doc.VirusScanStatus, &virusError, &virusAnalysis, &virusStarted, &virusCompleted,
		&doc.Version,
	)
	if err != nil {
		return nil, err
	}

	doc.OcrText = ocrText.String
	doc.OcrError = ocrError.String
	doc.OcrStartedAt = nullTime(ocrStarted)
	doc.OcrCompletedAt = nullTime(ocrCompleted)
	doc.SummaryText = summaryText.String
	doc.SummaryError = summaryError.String
	doc.SummaryCompletedAt = nullTime(summaryCompleted)
	doc.VirusScanError = virusError.String
	doc.VirusScanAnalysisID = virusAnalysis.String
	doc.VirusScanStartedAt = nullTime(virusStarted)
	doc.VirusScanCompletedAt = nullTime(virusCompleted)
	return &doc, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
