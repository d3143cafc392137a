package db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"golang.org/x/xerrors"

	"github.com/sdist-tools/sdist-meta/pkg/types"
)

const (
	dbFileName    = "sdist-meta.db"
	SchemaVersion = 1

	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

type DB struct {
	client *sql.DB
	dir    string
}

func Path(cacheDir string) string {
	return filepath.Join(cacheDir, dbFileName)
}

func New(cacheDir string) (DB, error) {
	dbPath := Path(cacheDir)
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0700); err != nil {
		return DB{}, xerrors.Errorf("failed to mkdir: %w", err)
	}

	client, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return DB{}, xerrors.Errorf("can't open db: %w", err)
	}

	return DB{
		client: client,
		dir:    dbDir,
	}, nil
}

func (db *DB) Init() error {
	if _, err := db.client.Exec("PRAGMA foreign_keys=true"); err != nil {
		return xerrors.Errorf("failed to enable 'foreign_keys': %w", err)
	}
	if _, err := db.client.Exec("CREATE TABLE IF NOT EXISTS archives(id INTEGER PRIMARY KEY, path TEXT, outcome TEXT, error_kind TEXT, detail TEXT)"); err != nil {
		return xerrors.Errorf("unable to create 'archives' table: %w", err)
	}
	if _, err := db.client.Exec("CREATE TABLE IF NOT EXISTS members(archive_id INTEGER, path TEXT, position INTEGER, foreign key (archive_id) references archives(id))"); err != nil {
		return xerrors.Errorf("unable to create 'members' table: %w", err)
	}
	if _, err := db.client.Exec("CREATE UNIQUE INDEX IF NOT EXISTS archives_path_idx ON archives(path)"); err != nil {
		return xerrors.Errorf("unable to create 'archives_path_idx' index: %w", err)
	}
	if _, err := db.client.Exec("CREATE INDEX IF NOT EXISTS members_archive_idx ON members(archive_id)"); err != nil {
		return xerrors.Errorf("unable to create 'members_archive_idx' index: %w", err)
	}
	return nil
}

func (db *DB) Dir() string {
	return db.dir
}

func (db *DB) Close() error {
	return db.client.Close()
}

func (db *DB) VacuumDB() error {
	if _, err := db.client.Exec("VACUUM"); err != nil {
		return xerrors.Errorf("vacuum database error: %w", err)
	}
	return nil
}

// InsertResults stores one row per archive, replacing any earlier result for
// the same archive path along with its member rows.
func (db *DB) InsertResults(results []types.Result) error {
	tx, err := db.client.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, r := range results {
		outcome := outcomeSuccess
		if r.Failed() {
			outcome = outcomeFailure
		}
		if _, err = tx.Exec(`INSERT INTO archives(path, outcome, error_kind, detail) VALUES (?, ?, ?, ?)
				ON CONFLICT(path) DO UPDATE SET outcome=excluded.outcome, error_kind=excluded.error_kind, detail=excluded.detail`,
			r.ArchivePath, outcome, string(r.ErrorKind), r.Detail); err != nil {
			return xerrors.Errorf("unable to insert to 'archives' table: %w", err)
		}

		var archiveID int64
		if err = tx.QueryRow(`SELECT id FROM archives WHERE path = ?`, r.ArchivePath).Scan(&archiveID); err != nil {
			return xerrors.Errorf("unable to select archive id: %w", err)
		}
		if _, err = tx.Exec(`DELETE FROM members WHERE archive_id = ?`, archiveID); err != nil {
			return xerrors.Errorf("unable to clear 'members' rows: %w", err)
		}
		for i, p := range r.ExtractedPaths {
			if _, err = tx.Exec(`INSERT INTO members(archive_id, path, position) VALUES (?, ?, ?)`, archiveID, p, i); err != nil {
				return xerrors.Errorf("unable to insert to 'members' table: %w", err)
			}
		}
	}
	return tx.Commit()
}

// SelectResultByArchivePath returns the stored result for one archive.
// A path without a stored result yields a zero Result.
func (db *DB) SelectResultByArchivePath(path string) (types.Result, error) {
	var (
		id      int64
		outcome string
		kind    string
		res     types.Result
	)
	row := db.client.QueryRow(`SELECT id, path, outcome, error_kind, detail FROM archives WHERE path = ?`, path)
	err := row.Scan(&id, &res.ArchivePath, &outcome, &kind, &res.Detail)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Result{}, nil
	} else if err != nil {
		return types.Result{}, xerrors.Errorf("select result error: %w", err)
	}
	res.ErrorKind = types.ErrorKind(kind)

	res.ExtractedPaths, err = db.selectMembers(id)
	if err != nil {
		return types.Result{}, err
	}
	return res, nil
}

// SelectResults returns every stored result ordered by archive path.
func (db *DB) SelectResults() ([]types.Result, error) {
	members, err := db.selectAllMembers()
	if err != nil {
		return nil, err
	}

	rows, err := db.client.Query(`SELECT id, path, outcome, error_kind, detail FROM archives ORDER BY path`)
	if err != nil {
		return nil, xerrors.Errorf("select results error: %w", err)
	}
	defer rows.Close()

	var results []types.Result
	for rows.Next() {
		var (
			id      int64
			outcome string
			kind    string
			res     types.Result
		)
		if err = rows.Scan(&id, &res.ArchivePath, &outcome, &kind, &res.Detail); err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		res.ErrorKind = types.ErrorKind(kind)
		res.ExtractedPaths = members[id]
		results = append(results, res)
	}
	return results, rows.Err()
}

// ProcessedArchives returns the set of archive paths with a recorded success,
// used to skip already extracted archives on resumed runs.
func (db *DB) ProcessedArchives() (map[string]struct{}, error) {
	rows, err := db.client.Query(`SELECT path FROM archives WHERE outcome = ?`, outcomeSuccess)
	if err != nil {
		return nil, xerrors.Errorf("select processed archives error: %w", err)
	}
	defer rows.Close()

	processed := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err = rows.Scan(&path); err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		processed[path] = struct{}{}
	}
	return processed, rows.Err()
}

// CountsByOutcome returns the number of stored archives per outcome.
func (db *DB) CountsByOutcome() (map[string]int, error) {
	rows, err := db.client.Query(`SELECT outcome, COUNT(*) FROM archives GROUP BY outcome`)
	if err != nil {
		return nil, xerrors.Errorf("count outcomes error: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			count   int
		)
		if err = rows.Scan(&outcome, &count); err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		counts[outcome] = count
	}
	return counts, rows.Err()
}

func (db *DB) selectMembers(archiveID int64) ([]string, error) {
	rows, err := db.client.Query(`SELECT path FROM members WHERE archive_id = ? ORDER BY position`, archiveID)
	if err != nil {
		return nil, xerrors.Errorf("select members error: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err = rows.Scan(&p); err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

func (db *DB) selectAllMembers() (map[int64][]string, error) {
	rows, err := db.client.Query(`SELECT archive_id, path FROM members ORDER BY archive_id, position`)
	if err != nil {
		return nil, xerrors.Errorf("select members error: %w", err)
	}
	defer rows.Close()

	members := make(map[int64][]string)
	for rows.Next() {
		var (
			id int64
			p  string
		)
		if err = rows.Scan(&id, &p); err != nil {
			return nil, xerrors.Errorf("scan row error: %w", err)
		}
		members[id] = append(members[id], p)
	}
	return members, rows.Err()
}
