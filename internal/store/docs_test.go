package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateDocAndLockVersion(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	doc, err := db.CreateDoc(ctx, CreateDocInput{Hash: "h1", Kind: DocDesign, Name: "retrieval", Title: "Retrieval design", FilePath: "docs/retrieval.yaml"})
	require.NoError(t, err)
	require.Equal(t, 1, doc.Version)
	require.Equal(t, DocChanging, doc.Status)

	locked, err := db.LockDoc(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, DocLocked, locked.Status)
	require.NotNil(t, locked.LockedAt)

	v2, err := db.CreateDocVersion(ctx, doc.ID, "h2", "Retrieval design v2", "docs/retrieval.yaml")
	require.NoError(t, err)
	require.Equal(t, 2, v2.Version)
	require.Equal(t, doc.ID, *v2.ParentDocID)
}

func TestCreateDocVersionRequiresLockedPrior(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	doc, err := db.CreateDoc(ctx, CreateDocInput{Hash: "h1", Kind: DocOverview, Name: "sys", Title: "t", FilePath: "docs/sys.yaml"})
	require.NoError(t, err)

	_, err = db.CreateDocVersion(ctx, doc.ID, "h2", "t2", "docs/sys.yaml")
	require.Error(t, err)
}

func TestDeprecateInvariantsNotIn(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	doc, err := db.CreateDoc(ctx, CreateDocInput{Hash: "h1", Kind: DocDesign, Name: "d", Title: "t", FilePath: "docs/d.yaml"})
	require.NoError(t, err)

	_, err = db.CreateInvariant(ctx, CreateInvariantInput{ID: "INV-KEEP", Rule: "r1", Enforcement: EnforcementIntegrationTest, DocID: doc.ID})
	require.NoError(t, err)
	_, err = db.CreateInvariant(ctx, CreateInvariantInput{ID: "INV-DROP", Rule: "r2", Enforcement: EnforcementIntegrationTest, DocID: doc.ID})
	require.NoError(t, err)

	require.NoError(t, db.DeprecateInvariantsNotIn(ctx, doc.ID, []string{"INV-KEEP"}))

	kept, err := db.GetInvariant(ctx, "INV-KEEP")
	require.NoError(t, err)
	require.Equal(t, InvariantActive, kept.Status)

	dropped, err := db.GetInvariant(ctx, "INV-DROP")
	require.NoError(t, err)
	require.Equal(t, InvariantDeprecated, dropped.Status)
}

func TestRecordAndFetchLatestInvariantCheck(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	doc, err := db.CreateDoc(ctx, CreateDocInput{Hash: "h1", Kind: DocDesign, Name: "d", Title: "t", FilePath: "docs/d.yaml"})
	require.NoError(t, err)
	_, err = db.CreateInvariant(ctx, CreateInvariantInput{ID: "INV-X", Rule: "r", Enforcement: EnforcementLinter, DocID: doc.ID})
	require.NoError(t, err)

	_, err = db.RecordInvariantCheck(ctx, "INV-X", false, nil, nil)
	require.NoError(t, err)
	_, err = db.RecordInvariantCheck(ctx, "INV-X", true, nil, nil)
	require.NoError(t, err)

	latest, err := db.LatestInvariantCheck(ctx, "INV-X")
	require.NoError(t, err)
	require.True(t, latest.Passed)
}
