package cache

import (
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"

	"github.com/eliteGoblin/focusd/comp_ctl/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const cacheDBName = "components.db"

// EncryptedCache implements domain.ComponentCache on a SQLCipher database.
type EncryptedCache struct {
	db     *sql.DB
	dbPath string
}

// Open opens the cache of userID in dataDir. A cache without a usable key,
// or one created for another user, is discarded and recreated empty.
func Open(dataDir string, userID int) (*EncryptedCache, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	key, _, err := cacheKey(dataDir, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cache key: %w", err)
	}
	return NewEncryptedCache(dataDir, key)
}

// NewEncryptedCache opens (or creates) an encrypted cache database.
// The key is used as the SQLCipher passphrase via PRAGMA key.
func NewEncryptedCache(dataDir string, key []byte) (*EncryptedCache, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, cacheDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	c := &EncryptedCache{db: db, dbPath: dbPath}
	if err := c.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return c, nil
}

func (c *EncryptedCache) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS component_status (
		package TEXT NOT NULL,
		component TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT '',
		exported INTEGER NOT NULL DEFAULT 0,
		pm_blocked INTEGER NOT NULL DEFAULT 0,
		ifw_blocked INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (package, component)
	);

	CREATE INDEX IF NOT EXISTS idx_component_status_package ON component_status(package);
	`
	_, err := c.db.Exec(schema)
	return err
}

const selectColumns = `SELECT package, component, type, exported, pm_blocked, ifw_blocked, updated_at FROM component_status`

// Get returns the cached status, or nil when the component was never cached.
func (c *EncryptedCache) Get(packageName, componentName string) (*domain.ComponentStatus, error) {
	row := c.db.QueryRow(selectColumns+` WHERE package = ? AND component = ?`, packageName, componentName)
	status, err := scanStatus(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return status, nil
}

// Upsert inserts or replaces one component's status.
func (c *EncryptedCache) Upsert(status domain.ComponentStatus) error {
	updated := status.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := c.db.Exec(`
		INSERT OR REPLACE INTO component_status
			(package, component, type, exported, pm_blocked, ifw_blocked, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		status.Ref.PackageName, status.Ref.ComponentName, string(status.Ref.Type),
		status.Exported, status.PMBlocked, status.IFWBlocked, updated.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", status.Ref.FlattenedName(), err)
	}
	return nil
}

// ListByPackage returns a package's cached components ordered by name.
func (c *EncryptedCache) ListByPackage(packageName string) ([]domain.ComponentStatus, error) {
	return c.query(selectColumns+` WHERE package = ? ORDER BY component`, packageName)
}

// Search matches keyword against package and component names, case-insensitively.
func (c *EncryptedCache) Search(keyword string) ([]domain.ComponentStatus, error) {
	pattern := "%" + escapeLike(strings.ToLower(keyword)) + "%"
	return c.query(selectColumns+`
		WHERE lower(component) LIKE ? ESCAPE '\' OR lower(package) LIKE ? ESCAPE '\'
		ORDER BY package, component`, pattern, pattern)
}

// DeleteByPackage drops all rows of a package.
func (c *EncryptedCache) DeleteByPackage(packageName string) error {
	_, err := c.db.Exec(`DELETE FROM component_status WHERE package = ?`, packageName)
	return err
}

// Path returns the database file path.
func (c *EncryptedCache) Path() string {
	return c.dbPath
}

// Close releases the database connection.
func (c *EncryptedCache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

func (c *EncryptedCache) query(q string, args ...any) ([]domain.ComponentStatus, error) {
	rows, err := c.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ComponentStatus
	for rows.Next() {
		status, err := scanStatus(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *status)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanStatus(s scanner) (*domain.ComponentStatus, error) {
	var (
		pkg, comp, typ                  string
		exported, pmBlocked, ifwBlocked bool
		updated                         int64
	)
	if err := s.Scan(&pkg, &comp, &typ, &exported, &pmBlocked, &ifwBlocked, &updated); err != nil {
		return nil, err
	}
	return &domain.ComponentStatus{
		Ref: domain.ComponentRef{
			PackageName:   pkg,
			ComponentName: comp,
			Type:          domain.ComponentType(typ),
		},
		Exported:   exported,
		PMBlocked:  pmBlocked,
		IFWBlocked: ifwBlocked,
		UpdatedAt:  time.Unix(updated, 0),
	}, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Ensure EncryptedCache implements domain.ComponentCache.
var _ domain.ComponentCache = (*EncryptedCache)(nil)
