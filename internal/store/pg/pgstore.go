// Package pg persists the directory and the audit trail in PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"autoaccess.org/internal/audit"
	"autoaccess.org/internal/directory"
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

var (
	_ directory.Store = (*Store)(nil)
	_ audit.Recorder  = (*Store)(nil)
)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewWithDB wraps an existing handle; used by tests and the migrator.
func NewWithDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

const accountColumns = `username, name, email, department, role, ou, groups, permissions, status, credential_hash, created_at, updated_at`

func (s *Store) Create(ctx context.Context, acc *directory.Account) error {
	if !directory.ValidStatus(acc.Status) {
		return directory.ErrInvalidStatus
	}
	groups, perms, err := encodeSets(acc)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into accounts(`+accountColumns+`)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, strings.ToLower(acc.Username), acc.Name, strings.ToLower(acc.Email), acc.Department, acc.Role, acc.OU,
		groups, perms, acc.Status, acc.CredentialHash, acc.CreatedAt, acc.UpdatedAt)
	if isUniqueViolation(err) {
		return directory.ErrConflict
	}
	return err
}

func (s *Store) GetByUsername(ctx context.Context, username string) (*directory.Account, error) {
	return s.getBy(ctx, `username = lower($1)`, username)
}

func (s *Store) GetByEmail(ctx context.Context, email string) (*directory.Account, error) {
	return s.getBy(ctx, `email = lower($1)`, email)
}

func (s *Store) getBy(ctx context.Context, where, arg string) (*directory.Account, error) {
	row := s.db.QueryRowContext(ctx, `
		select `+accountColumns+` from accounts where `+where, arg)
	acc, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, directory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Store) Update(ctx context.Context, acc *directory.Account) error {
	if !directory.ValidStatus(acc.Status) {
		return directory.ErrInvalidStatus
	}
	groups, perms, err := encodeSets(acc)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update accounts
		set name=$2, email=lower($3), department=$4, role=$5, ou=$6,
		    groups=$7, permissions=$8, status=$9, credential_hash=$10, updated_at=$11
		where username = lower($1)
	`, acc.Username, acc.Name, acc.Email, acc.Department, acc.Role, acc.OU,
		groups, perms, acc.Status, acc.CredentialHash, acc.UpdatedAt)
	if isUniqueViolation(err) {
		return directory.ErrConflict
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return directory.ErrNotFound
	}
	return nil
}

func (s *Store) List(ctx context.Context) ([]*directory.Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+accountColumns+` from accounts order by username asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*directory.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, acc)
	}
	return out, rows.Err()
}

func (s *Store) Delete(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `delete from accounts where username = lower($1)`, username)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return directory.ErrNotFound
	}
	return nil
}

// Append writes an audit entry. audit_log has no update or delete path.
func (s *Store) Append(ctx context.Context, entry *audit.Entry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("encode details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into audit_log(id, occurred_at, action, subject, batch_id, details)
		values ($1,$2,$3,$4,nullif($5,''),$6)
	`, entry.ID, entry.OccurredAt, string(entry.Action), entry.Subject, entry.BatchID, details)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(row scanner) (*directory.Account, error) {
	var acc directory.Account
	var groups, perms []byte
	err := row.Scan(&acc.Username, &acc.Name, &acc.Email, &acc.Department, &acc.Role, &acc.OU,
		&groups, &perms, &acc.Status, &acc.CredentialHash, &acc.CreatedAt, &acc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(groups, &acc.Groups); err != nil {
		return nil, fmt.Errorf("decode groups: %w", err)
	}
	if err := json.Unmarshal(perms, &acc.Permissions); err != nil {
		return nil, fmt.Errorf("decode permissions: %w", err)
	}
	return &acc, nil
}

func encodeSets(acc *directory.Account) ([]byte, []byte, error) {
	groups, err := json.Marshal(emptyIfNil(acc.Groups))
	if err != nil {
		return nil, nil, fmt.Errorf("encode groups: %w", err)
	}
	perms, err := json.Marshal(emptyIfNil(acc.Permissions))
	if err != nil {
		return nil, nil, fmt.Errorf("encode permissions: %w", err)
	}
	return groups, perms, nil
}

func emptyIfNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
