package session

import (
	"fmt"
	"os"
	"path/filepath"
)

// CredentialStore locates and wipes per-shop pairing credential stores. The
// socket library persists its own session material; this type only decides
// where and removes it on logout so a revoked session cannot auto-restore.
type CredentialStore interface {
	// DSN returns the driver name and data source for a shop's credential
	// container.
	DSN(shopID string) (driver, dsn string)
	// Exists reports whether the shop has persisted pairing credentials.
	Exists(shopID string) bool
	// Wipe removes the shop's persisted credentials. Idempotent.
	Wipe(shopID string) error
	// Ref returns an opaque reference recorded on the channel row for
	// operator visibility.
	Ref(shopID string) string
}

// FileCredentialStore keeps one sqlite credential container per shop under a
// base directory.
type FileCredentialStore struct {
	Dir string
}

// NewFileCredentialStore ensures the base directory exists.
func NewFileCredentialStore(dir string) (*FileCredentialStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}
	return &FileCredentialStore{Dir: dir}, nil
}

func (s *FileCredentialStore) path(shopID string) string {
	return filepath.Join(s.Dir, "wa_session_"+shopID+".db")
}

// DSN returns the sqlite container DSN for the shop. WAL keeps the socket
// library's frequent key writes from blocking reads.
func (s *FileCredentialStore) DSN(shopID string) (string, string) {
	p := s.path(shopID)
	return "sqlite", fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode=WAL&_pragma=synchronous=NORMAL", p)
}

// Exists reports whether the shop's container file is present.
func (s *FileCredentialStore) Exists(shopID string) bool {
	_, err := os.Stat(s.path(shopID))
	return err == nil
}

// Wipe removes the container and its WAL sidecar files.
func (s *FileCredentialStore) Wipe(shopID string) error {
	p := s.path(shopID)
	var first error
	for _, f := range []string{p, p + "-wal", p + "-shm"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) && first == nil {
			first = err
		}
	}
	return first
}

// Ref returns the container path.
func (s *FileCredentialStore) Ref(shopID string) string {
	return s.path(shopID)
}

// PostgresCredentialStore stores all shops' credential containers in one
// Postgres database via the pgx stdlib driver. Wipe is delegated to the
// socket library's own device deletion during logout, so it is a no-op here.
type PostgresCredentialStore struct {
	ConnString string
}

// DSN returns the shared Postgres DSN.
func (s *PostgresCredentialStore) DSN(string) (string, string) {
	return "pgx", s.ConnString
}

// Exists is pessimistic: resumability is discovered by dialing.
func (s *PostgresCredentialStore) Exists(string) bool { return false }

// Wipe is a no-op; device rows are removed by the provider logout.
func (s *PostgresCredentialStore) Wipe(string) error { return nil }

// Ref identifies the shared store without leaking the DSN.
func (s *PostgresCredentialStore) Ref(string) string { return "postgres" }
