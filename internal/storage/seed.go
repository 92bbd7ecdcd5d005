package storage

import (
	"context"
	"fmt"

	"github.com/openwallet-foundation-labs/identity-credential/pkg/mdoc"
)

// Seed identifiers, matching the demo data the admin plane and the client
// test suite expect.
const (
	SeedErikaPersonID   = 10
	SeedErikaDocumentID = 11
	SeedErikaIssuedID   = 12
	SeedErikaCode       = "1001"

	SeedJohnPersonID   = 20
	SeedJohnDocumentID = 21
	SeedJohnIssuedID   = 22
	SeedJohnCode       = "2001"
)

// Placeholder JPEG portraits. A deployment would load real images; the
// flows only care that the bytes round-trip.
var (
	erikaPortrait = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0xff, 0xd9}
	johnPortrait  = []byte{0xff, 0xd8, 0xff, 0xe0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x01, 0xff, 0xd9}
)

func seedNameSpaces(familyName, givenName string, portrait []byte) mdoc.NameSpaces {
	return mdoc.NameSpaces{
		mdoc.NamespaceISO: {
			{Name: "family_name", Value: familyName, AccessControlProfiles: []int{0}},
			{Name: "given_name", Value: givenName, AccessControlProfiles: []int{0}},
			{Name: "portrait", Value: portrait, AccessControlProfiles: []int{0}},
		},
		mdoc.NamespaceAAMVA: {
			{Name: "real_id", Value: true, AccessControlProfiles: []int{0}},
		},
	}
}

// SeedTestData populates the catalog with the two demo subjects, Erika
// Mustermann and John Doe, each with one mDL document and one issued
// document awaiting provisioning.
func (s *Store) SeedTestData(ctx context.Context) error {
	acp, err := mdoc.EncodeAccessControlProfiles([]mdoc.AccessControlProfile{
		{ID: 0, UserAuthenticationRequired: true, TimeoutMillis: 1000},
	})
	if err != nil {
		return err
	}

	now := Now()
	subjects := []struct {
		personID   int64
		documentID int64
		issuedID   int64
		code       string
		name       string
		familyName string
		givenName  string
		portrait   []byte
	}{
		{SeedErikaPersonID, SeedErikaDocumentID, SeedErikaIssuedID, SeedErikaCode,
			"Erika Mustermann", "Mustermann", "Erika", erikaPortrait},
		{SeedJohnPersonID, SeedJohnDocumentID, SeedJohnIssuedID, SeedJohnCode,
			"John Doe", "Doe", "John", johnPortrait},
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	defer tx.Rollback()

	for _, sub := range subjects {
		ns, err := mdoc.EncodeNameSpaces(seedNameSpaces(sub.familyName, sub.givenName, sub.portrait))
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO persons (person_id, name, portrait) VALUES (?, ?, ?)`,
			sub.personID, sub.name, sub.portrait); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO documents (document_id, person_id, doc_type, access_control_profiles, name_spaces, data_timestamp)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			sub.documentID, sub.personID, mdoc.DocTypeMDL, acp, ns, now); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO issued_documents (issued_document_id, document_id, provisioning_code)
			 VALUES (?, ?, ?)`,
			sub.issuedID, sub.documentID, sub.code); err != nil {
			return fmt.Errorf("%w: %v", ErrStore, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrStore, err)
	}
	return nil
}

// UpdateDocumentTestData re-issues a document's content with a fresh data
// timestamp, which makes the next update flow for any wallet configured
// against it report "update".
func (s *Store) UpdateDocumentTestData(ctx context.Context, documentID int64) error {
	doc, err := s.LookupDocument(ctx, documentID)
	if err != nil {
		return err
	}
	return s.UpdateDocument(ctx, documentID, doc.NameSpaces, Now())
}
