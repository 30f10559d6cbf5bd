// Package library is the photo library memes are saved to: composites are
// written as PNG files and indexed in SQLite so they can be listed later.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"memeMe/composer"
)

// ErrNotFound is returned for ids the library has no record of.
var ErrNotFound = errors.New("library: meme not found")

const schema = `
CREATE TABLE IF NOT EXISTS memes (
    id          TEXT PRIMARY KEY,
    top_text    TEXT NOT NULL,
    bottom_text TEXT NOT NULL,
    file_name   TEXT NOT NULL,
    width       INTEGER NOT NULL,
    height      INTEGER NOT NULL,
    created_ns  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memes_created ON memes(created_ns);
`

// Record is the stored description of a saved meme.
type Record struct {
	ID         string    `json:"id"`
	TopText    string    `json:"top_text"`
	BottomText string    `json:"bottom_text"`
	Path       string    `json:"path"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	CreatedAt  time.Time `json:"created_at"`
}

// Library stores memes under a directory with a SQLite index.
type Library struct {
	dir    string
	db     *sql.DB
	logger *zap.Logger
}

// Open creates dir if needed and opens the index at dbPath. An empty dbPath
// puts the index in dir/memes.db.
func Open(dir, dbPath string, logger *zap.Logger) (*Library, error) {
	if dir == "" {
		return nil, errors.New("library: directory must not be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("library: create directory: %w", err)
	}
	if dbPath == "" {
		dbPath = filepath.Join(dir, "memes.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("library: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("library: open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("library: apply schema: %w", err)
	}

	return &Library{dir: dir, db: db, logger: logger}, nil
}

// Close closes the index.
func (l *Library) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Save records the meme and writes its composite to disk in one transaction,
// so the directory and index never disagree.
func (l *Library) Save(ctx context.Context, meme composer.Meme) error {
	if meme.ID == "" {
		return errors.New("library: meme id is empty")
	}
	if meme.CompositeImage == nil {
		return errors.New("library: meme has no composite image")
	}

	fileName := meme.ID + ".png"
	path := filepath.Join(l.dir, fileName)
	bounds := meme.CompositeImage.Bounds()

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("library: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO memes (id, top_text, bottom_text, file_name, width, height, created_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		meme.ID, meme.TopText, meme.BottomText, fileName, bounds.Dx(), bounds.Dy(), meme.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("library: insert meme: %w", err)
	}

	if err := writePNG(path, meme.CompositeImage); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		if rmErr := os.Remove(path); rmErr != nil {
			l.logger.Warn("remove orphaned meme file", zap.String("path", path), zap.Error(rmErr))
		}
		return fmt.Errorf("library: commit meme: %w", err)
	}

	l.logger.Info("meme saved",
		zap.String("meme_id", meme.ID),
		zap.String("path", path),
		zap.Int("width", bounds.Dx()),
		zap.Int("height", bounds.Dy()),
	)
	return nil
}

func writePNG(path string, img image.Image) error {
	tmp := path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("library: create %q: %w", tmp, err)
	}
	if err := png.Encode(file, img); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("library: encode png: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("library: close %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("library: rename %q: %w", tmp, err)
	}
	return nil
}

func (l *Library) scan(row interface{ Scan(...any) error }) (Record, error) {
	var (
		rec       Record
		fileName  string
		createdNs int64
	)
	if err := row.Scan(&rec.ID, &rec.TopText, &rec.BottomText, &fileName, &rec.Width, &rec.Height, &createdNs); err != nil {
		return Record{}, err
	}
	rec.Path = filepath.Join(l.dir, fileName)
	rec.CreatedAt = time.Unix(0, createdNs).UTC()
	return rec, nil
}

// List returns every saved meme, newest first.
func (l *Library) List(ctx context.Context) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, top_text, bottom_text, file_name, width, height, created_ns
		FROM memes ORDER BY created_ns DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("library: list memes: %w", err)
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		rec, err := l.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("library: scan meme: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("library: list memes: %w", err)
	}
	return records, nil
}

// Get returns the record for id.
func (l *Library) Get(ctx context.Context, id string) (Record, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT id, top_text, bottom_text, file_name, width, height, created_ns
		FROM memes WHERE id = ?`, id)
	rec, err := l.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("library: get meme %s: %w", id, err)
	}
	return rec, nil
}

// Image decodes the stored composite for id.
func (l *Library) Image(ctx context.Context, id string) (image.Image, error) {
	rec, err := l.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(rec.Path)
	if err != nil {
		return nil, fmt.Errorf("library: open %q: %w", rec.Path, err)
	}
	defer file.Close()

	img, err := png.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("library: decode %q: %w", rec.Path, err)
	}
	return img, nil
}

// Delete removes the record and its file.
func (l *Library) Delete(ctx context.Context, id string) error {
	rec, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, `DELETE FROM memes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("library: delete meme %s: %w", id, err)
	}
	if err := os.Remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		l.logger.Warn("remove meme file", zap.String("path", rec.Path), zap.Error(err))
	}
	return nil
}
