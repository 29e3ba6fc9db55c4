package docgraph

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestService(t *testing.T) (*Service, *store.DB) {
	t.Helper()
	db := openTestDB(t)
	return NewService(db, filepath.Join(t.TempDir(), "docs")), db
}

func TestCreateWritesFileAndIndexRow(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	doc, err := svc.Create(ctx, CreateInput{Kind: store.DocOverview, Name: "system", Title: "System Overview"})
	require.NoError(t, err)
	require.Equal(t, 1, doc.Version)
	require.Equal(t, store.DocChanging, doc.Status)
	require.NotEmpty(t, doc.Hash)

	data, err := os.ReadFile(doc.FilePath)
	require.NoError(t, err)
	require.Contains(t, string(data), "title: System Overview")
}

func TestCreateRejectsEmptyFields(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Create(ctx, CreateInput{Kind: store.DocOverview, Name: "", Title: "x"})
	require.Error(t, err)
	require.Equal(t, apitypes.TagValidation, apitypes.TagOf(err))
}

func TestUpdateForbiddenOnceLocked(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	doc, err := svc.Create(ctx, CreateInput{Kind: store.DocDesign, Name: "design-a", Title: "Design A"})
	require.NoError(t, err)

	locked, err := svc.Lock(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, store.DocLocked, locked.Status)

	_, err = svc.Update(ctx, doc.ID, "Design A v2", "", nil)
	require.Error(t, err)
	require.Equal(t, apitypes.TagValidation, apitypes.TagOf(err))
}

func TestLockIsIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	doc, err := svc.Create(ctx, CreateInput{Kind: store.DocDesign, Name: "design-b", Title: "Design B"})
	require.NoError(t, err)

	first, err := svc.Lock(ctx, doc.ID)
	require.NoError(t, err)
	second, err := svc.Lock(ctx, doc.ID)
	require.NoError(t, err)
	require.Equal(t, first.LockedAt, second.LockedAt)
}

func TestCreateVersionRequiresLockedPrior(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	doc, err := svc.Create(ctx, CreateInput{Kind: store.DocDesign, Name: "design-c", Title: "Design C"})
	require.NoError(t, err)

	_, err = svc.CreateVersion(ctx, doc.ID, "Design C v2", "", nil)
	require.Error(t, err)

	_, err = svc.Lock(ctx, doc.ID)
	require.NoError(t, err)

	v2, err := svc.CreateVersion(ctx, doc.ID, "Design C v2", "", nil)
	require.NoError(t, err)
	require.Equal(t, 2, v2.Version)
	require.Equal(t, doc.ID, *v2.ParentDocID)
}

func TestCreatePatchLinksDesignPatch(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	design, err := svc.Create(ctx, CreateInput{Kind: store.DocDesign, Name: "design-d", Title: "Design D"})
	require.NoError(t, err)
	_, err = svc.Lock(ctx, design.ID)
	require.NoError(t, err)

	patch, err := svc.CreatePatch(ctx, design.ID, "design-d-patch-1", "Patch 1", "", nil)
	require.NoError(t, err)

	links, err := db.DocLinksFrom(ctx, design.ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	require.Equal(t, store.LinkDesignPatch, links[0].LinkType)
	require.Equal(t, patch.ID, links[0].ToDocID)
}

func TestLinkDocsDerivesDefaultLinkType(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	overview, err := svc.Create(ctx, CreateInput{Kind: store.DocOverview, Name: "overview-a", Title: "Overview A"})
	require.NoError(t, err)
	prd, err := svc.Create(ctx, CreateInput{Kind: store.DocPRD, Name: "prd-a", Title: "PRD A"})
	require.NoError(t, err)

	link, err := svc.LinkDocs(ctx, overview.ID, prd.ID, "")
	require.NoError(t, err)
	require.Equal(t, store.LinkOverviewToPRD, link.LinkType)
}

func TestSyncInvariantsUpsertsAndDeprecates(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	doc, err := svc.Create(ctx, CreateInput{
		Kind: store.DocDesign, Name: "design-e", Title: "Design E",
		Invariants: []InvariantBody{
			{ID: "INV-1", Rule: "rule one", Enforcement: "integration_test"},
			{ID: "INV-2", Rule: "rule two", Enforcement: "linter"},
		},
	})
	require.NoError(t, err)

	invariants, err := db.InvariantsForDoc(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, invariants, 2)

	_, err = svc.Update(ctx, doc.ID, "Design E", "", []InvariantBody{
		{ID: "INV-1", Rule: "rule one updated", Enforcement: "integration_test"},
	})
	require.NoError(t, err)

	inv1, err := db.GetInvariant(ctx, "INV-1")
	require.NoError(t, err)
	require.Equal(t, store.InvariantActive, inv1.Status)
	require.Equal(t, "rule one updated", inv1.Rule)

	inv2, err := db.GetInvariant(ctx, "INV-2")
	require.NoError(t, err)
	require.Equal(t, store.InvariantDeprecated, inv2.Status)
}

func TestDetectDriftFlagsDanglingTaskLink(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t)

	doc, err := svc.Create(ctx, CreateInput{Kind: store.DocDesign, Name: "design-f", Title: "Design F"})
	require.NoError(t, err)

	_, err = db.LinkTaskToDoc(ctx, "tx-missing", doc.ID, store.TaskDocImplements)
	require.NoError(t, err)

	warnings, err := svc.DetectDrift(ctx, "design-f")
	require.NoError(t, err)

	var found bool
	for _, w := range warnings {
		if w.Kind == DriftDanglingTaskLink && w.Subject == "tx-missing" {
			found = true
		}
	}
	require.True(t, found)
}

func TestDetectDriftFlagsStaleAndMissingTestRef(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	missingRef := "/nonexistent/test_ref.go"
	doc, err := svc.Create(ctx, CreateInput{
		Kind: store.DocDesign, Name: "design-g", Title: "Design G",
		Invariants: []InvariantBody{{ID: "INV-G1", Rule: "rule g", Enforcement: "integration_test", TestRef: &missingRef}},
	})
	require.NoError(t, err)
	require.NotNil(t, doc)

	warnings, err := svc.DetectDrift(ctx, "design-g")
	require.NoError(t, err)

	kinds := map[DriftWarningKind]bool{}
	for _, w := range warnings {
		kinds[w.Kind] = true
	}
	require.True(t, kinds[DriftMissingTestRef])
	require.True(t, kinds[DriftStaleCheck])
}

func TestRenderWritesMarkdownProjection(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Create(ctx, CreateInput{Kind: store.DocOverview, Name: "overview-b", Title: "Overview B", Description: "the system in brief"})
	require.NoError(t, err)

	paths, err := svc.Render(ctx, "overview-b")
	require.NoError(t, err)
	require.Len(t, paths, 1)

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	require.Contains(t, string(data), "# Overview B")
	require.Contains(t, string(data), "the system in brief")
}
