package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/curanet/nodelink/protocol"
)

// PostgresStore implements Store with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore opens the database, verifies connectivity and runs
// migrations.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS node_identities (
		node_id VARCHAR(128) PRIMARY KEY,
		node_name VARCHAR(256) NOT NULL,
		certificate TEXT NOT NULL,
		fingerprint VARCHAR(64) NOT NULL UNIQUE,
		contact_info VARCHAR(512) NOT NULL DEFAULT '',
		institution_details VARCHAR(512) NOT NULL DEFAULT '',
		node_url VARCHAR(512) NOT NULL DEFAULT '',
		requested_level VARCHAR(32) NOT NULL,
		granted_level VARCHAR(32) NOT NULL DEFAULT '',
		status VARCHAR(32) NOT NULL,
		registration_id VARCHAR(64) NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}',
		registered_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
		last_seen_at TIMESTAMP WITH TIME ZONE,
		last_authenticated_at TIMESTAMP WITH TIME ZONE
	);

	CREATE INDEX IF NOT EXISTS idx_node_identities_status ON node_identities(status);
	CREATE INDEX IF NOT EXISTS idx_node_identities_fingerprint ON node_identities(fingerprint);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Save upserts a record keyed by node id. A fingerprint collision with a
// different node surfaces as the unique-constraint error.
func (s *PostgresStore) Save(ctx context.Context, node *NodeIdentity) error {
	metadata, err := json.Marshal(node.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if node.Metadata == nil {
		metadata = []byte("{}")
	}

	query := `
	INSERT INTO node_identities
		(node_id, node_name, certificate, fingerprint, contact_info, institution_details,
		 node_url, requested_level, granted_level, status, registration_id, metadata,
		 registered_at, updated_at, last_seen_at, last_authenticated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	ON CONFLICT (node_id) DO UPDATE SET
		node_name = EXCLUDED.node_name,
		certificate = EXCLUDED.certificate,
		fingerprint = EXCLUDED.fingerprint,
		contact_info = EXCLUDED.contact_info,
		institution_details = EXCLUDED.institution_details,
		node_url = EXCLUDED.node_url,
		requested_level = EXCLUDED.requested_level,
		granted_level = EXCLUDED.granted_level,
		status = EXCLUDED.status,
		registration_id = EXCLUDED.registration_id,
		metadata = EXCLUDED.metadata,
		updated_at = EXCLUDED.updated_at,
		last_seen_at = EXCLUDED.last_seen_at,
		last_authenticated_at = EXCLUDED.last_authenticated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		node.NodeID,
		node.NodeName,
		node.Certificate,
		node.Fingerprint,
		node.ContactInfo,
		node.InstitutionDetails,
		node.NodeURL,
		string(node.RequestedLevel),
		string(node.GrantedLevel),
		string(node.Status),
		node.RegistrationID,
		metadata,
		node.RegisteredAt,
		node.UpdatedAt,
		nullableTime(node.LastSeenAt),
		nullableTime(node.LastAuthenticated),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return fmt.Errorf("certificate fingerprint already registered: %w", err)
		}
		return err
	}
	return nil
}

const selectColumns = `
	node_id, node_name, certificate, fingerprint, contact_info, institution_details,
	node_url, requested_level, granted_level, status, registration_id, metadata,
	registered_at, updated_at, last_seen_at, last_authenticated_at`

func (s *PostgresStore) GetByNodeID(ctx context.Context, nodeID string) (*NodeIdentity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM node_identities WHERE node_id = $1`, nodeID)
	return scanNode(row)
}

func (s *PostgresStore) GetByFingerprint(ctx context.Context, fingerprint string) (*NodeIdentity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM node_identities WHERE fingerprint = $1`, fingerprint)
	return scanNode(row)
}

func (s *PostgresStore) List(ctx context.Context) ([]*NodeIdentity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM node_identities ORDER BY registered_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*NodeIdentity
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		out = append(out, node)
	}
	return out, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanNode(row rowScanner) (*NodeIdentity, error) {
	var (
		node              NodeIdentity
		requested         string
		granted           string
		status            string
		metadata          []byte
		lastSeen          sql.NullTime
		lastAuthenticated sql.NullTime
	)

	err := row.Scan(
		&node.NodeID, &node.NodeName, &node.Certificate, &node.Fingerprint,
		&node.ContactInfo, &node.InstitutionDetails, &node.NodeURL,
		&requested, &granted, &status, &node.RegistrationID, &metadata,
		&node.RegisteredAt, &node.UpdatedAt, &lastSeen, &lastAuthenticated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	node.RequestedLevel = protocol.AccessLevel(requested)
	node.GrantedLevel = protocol.AccessLevel(granted)
	node.Status = protocol.NodeStatus(status)
	if lastSeen.Valid {
		node.LastSeenAt = lastSeen.Time
	}
	if lastAuthenticated.Valid {
		node.LastAuthenticated = lastAuthenticated.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &node.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &node, nil
}

func nullableTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
