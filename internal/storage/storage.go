// Package storage implements the issuing authority's system of record: a
// SQLite catalog of persons, documents, issued documents and the wallet
// instances configured against them.
package storage

import (
	"context"
	"crypto/ecdsa"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/openwallet-foundation-labs/identity-credential/pkg/cose"
	"github.com/openwallet-foundation-labs/identity-credential/pkg/pki"
)

var (
	ErrNotFound     = errors.New("storage: no such row")
	ErrDuplicateKey = errors.New("storage: credential key already configured")
	ErrCodeConsumed = errors.New("storage: provisioning code already used")
	ErrStore        = errors.New("storage: operation failed")
)

const schema = `
CREATE TABLE IF NOT EXISTS persons (
    person_id INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    portrait BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
    document_id INTEGER PRIMARY KEY,
    person_id INTEGER NOT NULL,
    doc_type TEXT NOT NULL,
    access_control_profiles BLOB NOT NULL,
    name_spaces BLOB NOT NULL,
    data_timestamp REAL NOT NULL,

    FOREIGN KEY (person_id)
      REFERENCES persons (person_id)
);

CREATE TABLE IF NOT EXISTS issued_documents (
    issued_document_id INTEGER PRIMARY KEY,
    document_id INTEGER NOT NULL,
    provisioning_code TEXT NOT NULL,
    consumed_at_timestamp REAL,

    FOREIGN KEY (document_id)
      REFERENCES documents (document_id)
);

CREATE TABLE IF NOT EXISTS configured_documents (
    configured_document_id INTEGER PRIMARY KEY,
    issued_document_id INTEGER NOT NULL,
    credential_key_x509_cert_chain BLOB,
    encoded_cose_credential_key BLOB UNIQUE,
    proof_of_provisioning BLOB,
    last_updated_timestamp REAL,
    data_timestamp REAL NOT NULL,
    status TEXT,

    FOREIGN KEY (issued_document_id)
      REFERENCES issued_documents (issued_document_id)
);

-- Reserved for per-use AuthKey endorsements; not written by the current
-- flows.
CREATE TABLE IF NOT EXISTS endorsed_authentication_keys (
    endorsed_authentication_key_id INTEGER PRIMARY KEY,
    configured_document_id INTEGER NOT NULL,
    authentication_key_x509_cert BLOB,
    static_auth_datas BLOB,
    generated_at_timestamp REAL NOT NULL,
    expires_at_timestamp REAL NOT NULL,

    FOREIGN KEY (configured_document_id)
      REFERENCES configured_documents (configured_document_id)
);
`

// Store wraps the SQLite database. A single connection serialises all
// access, which matches SQLite's own locking model and keeps each flow
// transition atomic.
type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (creating if necessary) the catalog at path. Use ":memory:"
// for an ephemeral store.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Now returns the store's timestamp representation of the current time:
// unix epoch seconds as a float.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

func (s *Store) LookupPerson(ctx context.Context, personID int64) (*Person, error) {
	p := Person{}
	err := s.db.QueryRowContext(ctx,
		`SELECT person_id, name, portrait FROM persons WHERE person_id = ?`,
		personID).Scan(&p.PersonID, &p.Name, &p.Portrait)
	if err != nil {
		return nil, wrapLookupErr(err, "person")
	}
	return &p, nil
}

func (s *Store) ListPersons(ctx context.Context) ([]Person, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT person_id, name, portrait FROM persons`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer rows.Close()
	var persons []Person
	for rows.Next() {
		var p Person
		if err := rows.Scan(&p.PersonID, &p.Name, &p.Portrait); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
		persons = append(persons, p)
	}
	return persons, rows.Err()
}

func (s *Store) LookupDocument(ctx context.Context, documentID int64) (*Document, error) {
	d := Document{}
	err := s.db.QueryRowContext(ctx,
		`SELECT document_id, person_id, doc_type, access_control_profiles, name_spaces, data_timestamp
		   FROM documents WHERE document_id = ?`,
		documentID).Scan(&d.DocumentID, &d.PersonID, &d.DocType,
		&d.AccessControlProfiles, &d.NameSpaces, &d.DataTimestamp)
	if err != nil {
		return nil, wrapLookupErr(err, "document")
	}
	return &d, nil
}

func (s *Store) LookupDocumentsByPerson(ctx context.Context, personID int64) ([]int64, error) {
	return s.lookupIDs(ctx,
		`SELECT document_id FROM documents WHERE person_id = ?`, personID)
}

func (s *Store) LookupIssuedDocument(ctx context.Context, issuedDocumentID int64) (*IssuedDocument, error) {
	return s.lookupIssued(ctx,
		`SELECT issued_document_id, document_id, provisioning_code, consumed_at_timestamp
		   FROM issued_documents WHERE issued_document_id = ?`, issuedDocumentID)
}

func (s *Store) LookupIssuedDocumentByProvisioningCode(ctx context.Context, code string) (*IssuedDocument, error) {
	return s.lookupIssued(ctx,
		`SELECT issued_document_id, document_id, provisioning_code, consumed_at_timestamp
		   FROM issued_documents WHERE provisioning_code = ?`, code)
}

func (s *Store) lookupIssued(ctx context.Context, query string, arg any) (*IssuedDocument, error) {
	d := IssuedDocument{}
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&d.IssuedDocumentID, &d.DocumentID, &d.ProvisioningCode, &d.ConsumedAt)
	if err != nil {
		return nil, wrapLookupErr(err, "issued document")
	}
	return &d, nil
}

// LookupConfiguredDocumentByCredentialKey finds the wallet instance indexed
// by the canonical COSE_Key encoding of the given public key.
func (s *Store) LookupConfiguredDocumentByCredentialKey(ctx context.Context, pub *ecdsa.PublicKey) (*ConfiguredDocument, error) {
	encodedKey, err := cose.EncodeKey(pub)
	if err != nil {
		return nil, err
	}
	d := ConfiguredDocument{}
	err = s.db.QueryRowContext(ctx,
		`SELECT configured_document_id, issued_document_id, credential_key_x509_cert_chain,
		        proof_of_provisioning, last_updated_timestamp, data_timestamp, status
		   FROM configured_documents WHERE encoded_cose_credential_key = ?`,
		encodedKey).Scan(&d.ConfiguredDocumentID, &d.IssuedDocumentID,
		&d.CredentialKeyCertChain, &d.ProofOfProvisioning,
		&d.LastUpdatedTimestamp, &d.DataTimestamp, &d.Status)
	if err != nil {
		return nil, wrapLookupErr(err, "configured document")
	}
	return &d, nil
}

func (s *Store) LookupConfiguredDocumentsByIssued(ctx context.Context, issuedDocumentID int64) ([]int64, error) {
	return s.lookupIDs(ctx,
		`SELECT configured_document_id FROM configured_documents WHERE issued_document_id = ?`,
		issuedDocumentID)
}

// InsertConfiguredDocument records a freshly provisioned wallet instance.
// The index key is recomputed from the cert chain's public key so that later
// lookups by CredentialKey land on this row, and the provisioning code is
// consumed in the same transaction.
func (s *Store) InsertConfiguredDocument(
	ctx context.Context,
	issuedDocumentID int64,
	certChain []byte,
	proofOfProvisioning []byte,
	lastUpdated float64,
	dataTimestamp float64,
) error {
	pub, err := pki.ChainPublicKey(certChain)
	if err != nil {
		return err
	}
	encodedKey, err := cose.EncodeKey(pub)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO configured_documents (issued_document_id, credential_key_x509_cert_chain,
		        encoded_cose_credential_key, proof_of_provisioning, last_updated_timestamp, data_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		issuedDocumentID, certChain, encodedKey, proofOfProvisioning, lastUpdated, dataTimestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE issued_documents SET consumed_at_timestamp = ? WHERE issued_document_id = ?`,
		lastUpdated, issuedDocumentID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

func (s *Store) UpdateConfiguredDocument(
	ctx context.Context,
	configuredDocumentID int64,
	proofOfProvisioning []byte,
	lastUpdated float64,
	dataTimestamp float64,
) error {
	return s.exec(ctx,
		`UPDATE configured_documents
		    SET proof_of_provisioning = ?, last_updated_timestamp = ?, data_timestamp = ?
		  WHERE configured_document_id = ?`,
		proofOfProvisioning, lastUpdated, dataTimestamp, configuredDocumentID)
}

func (s *Store) UpdateConfiguredDocumentStatus(ctx context.Context, configuredDocumentID int64, status string) error {
	return s.exec(ctx,
		`UPDATE configured_documents SET status = ? WHERE configured_document_id = ?`,
		status, configuredDocumentID)
}

func (s *Store) UpdateDocument(ctx context.Context, documentID int64, nameSpaces []byte, dataTimestamp float64) error {
	return s.exec(ctx,
		`UPDATE documents SET name_spaces = ?, data_timestamp = ? WHERE document_id = ?`,
		nameSpaces, dataTimestamp, documentID)
}

func (s *Store) DeleteConfiguredDocument(ctx context.Context, configuredDocumentID int64) error {
	return s.exec(ctx,
		`DELETE FROM configured_documents WHERE configured_document_id = ?`,
		configuredDocumentID)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) lookupIDs(ctx context.Context, query string, arg any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStore, err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func wrapLookupErr(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: no %s", ErrNotFound, what)
	}
	return fmt.Errorf("%w: %v", ErrStore, err)
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}
