package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aconcagua-systems/pna-core/pkg/faults"
	"github.com/aconcagua-systems/pna-core/pkg/ledger"
)

func newTestRegistry(t *testing.T) (*Registry, *ledger.Ledger) {
	t.Helper()
	clock := func() time.Time { return time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC) }
	led := ledger.New(ledger.NewMemoryStore()).WithClock(clock)
	return NewRegistry(led).WithClock(clock), led
}

func TestRegisterAndList(t *testing.T) {
	reg, _ := newTestRegistry(t)

	doc, err := reg.Register(Document{CaseID: "well-42", Name: "acta-cementacion.pdf"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.False(t, doc.Certified)

	_, err = reg.Register(Document{Name: "orphan.pdf"})
	require.ErrorIs(t, err, faults.ErrValidation, "documents must belong to a case")

	docs, err := reg.DocumentsFor(context.Background(), "well-42")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, doc.ID, docs[0].ID)
}

func TestCertifyRequiresContentHash(t *testing.T) {
	reg, _ := newTestRegistry(t)
	doc, err := reg.Register(Document{CaseID: "well-42", Name: "registro.pdf"})
	require.NoError(t, err)

	_, err = reg.Certify(context.Background(), doc.ID, "cert-1", "CERTIFIER")
	require.ErrorIs(t, err, faults.ErrValidation, "certification without a content hash must fail")

	require.NoError(t, reg.AttachHash(doc.ID, "a1b2c3"))
	certified, err := reg.Certify(context.Background(), doc.ID, "cert-1", "CERTIFIER")
	require.NoError(t, err)
	assert.True(t, certified.Certified)
	assert.Len(t, certified.CertificationHash, 64)
	assert.Equal(t, "cert-1", certified.CertifiedBy)
	require.NotNil(t, certified.CertifiedAt)
}

func TestCertifyIsLedgerRecorded(t *testing.T) {
	reg, led := newTestRegistry(t)
	doc, err := reg.Register(Document{CaseID: "well-42", Name: "registro.pdf"})
	require.NoError(t, err)
	require.NoError(t, reg.AttachHash(doc.ID, "a1b2c3"))

	certified, err := reg.Certify(context.Background(), doc.ID, "cert-1", "CERTIFIER")
	require.NoError(t, err)

	entries, err := led.EventsFor(context.Background(), doc.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, ledger.KindDocumentCertified, entries[0].Kind)
	assert.Equal(t, certified.CertificationHash, entries[0].Metadata["certification_hash"])
}

func TestHashFrozenAfterCertification(t *testing.T) {
	reg, _ := newTestRegistry(t)
	doc, err := reg.Register(Document{CaseID: "well-42", Name: "registro.pdf"})
	require.NoError(t, err)
	require.NoError(t, reg.AttachHash(doc.ID, "a1b2c3"))

	_, err = reg.Certify(context.Background(), doc.ID, "cert-1", "CERTIFIER")
	require.NoError(t, err)

	err = reg.AttachHash(doc.ID, "d4e5f6")
	require.ErrorIs(t, err, faults.ErrValidation)

	_, err = reg.Certify(context.Background(), doc.ID, "cert-1", "CERTIFIER")
	require.ErrorIs(t, err, faults.ErrValidation, "double certification must be rejected")
}

func TestCertifyUnknownDocument(t *testing.T) {
	reg, _ := newTestRegistry(t)
	_, err := reg.Certify(context.Background(), "missing", "cert-1", "CERTIFIER")
	require.ErrorIs(t, err, faults.ErrNotFound)
}
