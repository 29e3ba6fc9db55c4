package anchor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

func openTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func mustCreateLearning(t *testing.T, db *store.DB) *store.Learning {
	t.Helper()
	l, err := db.CreateLearning(context.Background(), store.CreateLearningInput{
		Content: "anchor fixture content", SourceType: store.LearningSourceManual,
	})
	require.NoError(t, err)
	return l
}

func TestVerifyHashAnchorDetectsDrift(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0o644))

	ctx := context.Background()
	db := openTestDB(t)
	l := mustCreateLearning(t, db)

	sumBytes := sha256.Sum256([]byte("package main\n"))
	sum := hex.EncodeToString(sumBytes[:])
	a, err := db.CreateAnchor(ctx, store.CreateAnchorInput{
		LearningID: l.ID, AnchorType: store.AnchorHash, AnchorValue: "file.go",
		FilePath: "file.go", ContentHash: &sum,
	})
	require.NoError(t, err)

	result := VerifyAnchor(a, dir)
	require.Equal(t, store.AnchorValid, result.NewStatus)

	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc main(){}\n"), 0o644))
	result = VerifyAnchor(a, dir)
	require.Equal(t, store.AnchorDrifted, result.NewStatus)
}

func TestVerifyLineRangeAnchor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")
	require.NoError(t, os.WriteFile(path, []byte("a\nb\nc\n"), 0o644))

	lineEnd := 3
	a := &store.Anchor{AnchorType: store.AnchorLineRange, FilePath: "file.txt", LineEnd: &lineEnd}
	require.Equal(t, store.AnchorValid, VerifyAnchor(a, dir).NewStatus)

	require.NoError(t, os.WriteFile(path, []byte("a\n"), 0o644))
	require.Equal(t, store.AnchorDrifted, VerifyAnchor(a, dir).NewStatus)

	require.NoError(t, os.Remove(path))
	require.Equal(t, store.AnchorInvalid, VerifyAnchor(a, dir).NewStatus)
}

func TestVerifyGlobAnchor(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "match.go"), []byte("x"), 0o644))

	a := &store.Anchor{AnchorType: store.AnchorGlob, AnchorValue: "*.go"}
	require.Equal(t, store.AnchorValid, VerifyAnchor(a, dir).NewStatus)

	a2 := &store.Anchor{AnchorType: store.AnchorGlob, AnchorValue: "*.rs"}
	require.Equal(t, store.AnchorInvalid, VerifyAnchor(a2, dir).NewStatus)
}

func TestVerifySymbolAnchorViaTreeSitter(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n\nfunc DoThing() {}\n"), 0o644))

	fqname := "DoThing"
	a := &store.Anchor{AnchorType: store.AnchorSymbol, FilePath: "file.go", SymbolFqname: &fqname}
	require.Equal(t, store.AnchorValid, VerifyAnchor(a, dir).NewStatus)

	missing := "NotThere"
	a2 := &store.Anchor{AnchorType: store.AnchorSymbol, FilePath: "file.go", SymbolFqname: &missing}
	require.Equal(t, store.AnchorDrifted, VerifyAnchor(a2, dir).NewStatus)
}

func TestGetWithVerificationReturnsFreshWithinTTL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "match.go"), []byte("x"), 0o644))

	db := openTestDB(t)
	l := mustCreateLearning(t, db)
	a, err := db.CreateAnchor(ctx, store.CreateAnchorInput{
		LearningID: l.ID, AnchorType: store.AnchorGlob, AnchorValue: "*.go", FilePath: "match.go",
	})
	require.NoError(t, err)

	svc := NewService(db, dir, time.Hour)
	first, err := svc.GetWithVerification(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, first.IsFresh)
	require.True(t, first.WasVerified)

	second, err := svc.GetWithVerification(ctx, a.ID)
	require.NoError(t, err)
	require.True(t, second.IsFresh)
	require.False(t, second.WasVerified)
}

func TestGetWithVerificationReVerifiesPastTTL(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "match.go"), []byte("x"), 0o644))

	db := openTestDB(t)
	l := mustCreateLearning(t, db)
	a, err := db.CreateAnchor(ctx, store.CreateAnchorInput{
		LearningID: l.ID, AnchorType: store.AnchorGlob, AnchorValue: "*.go", FilePath: "match.go",
	})
	require.NoError(t, err)

	svc := NewService(db, dir, time.Nanosecond)
	_, err = svc.GetWithVerification(ctx, a.ID)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	second, err := svc.GetWithVerification(ctx, a.ID)
	require.NoError(t, err)
	require.False(t, second.IsFresh)
	require.True(t, second.WasVerified)
}

func TestActionForClassifiesTransitions(t *testing.T) {
	require.Equal(t, ActionUnchanged, ActionFor(store.AnchorValid, store.AnchorValid))
	require.Equal(t, ActionSelfHealed, ActionFor(store.AnchorDrifted, store.AnchorValid))
	require.Equal(t, ActionDrifted, ActionFor(store.AnchorValid, store.AnchorDrifted))
	require.Equal(t, ActionInvalidated, ActionFor(store.AnchorValid, store.AnchorInvalid))
}

func TestCalculateMajorityVote(t *testing.T) {
	status, ok := CalculateMajorityVote([]store.AnchorStatus{store.AnchorValid, store.AnchorValid, store.AnchorDrifted})
	require.True(t, ok)
	require.Equal(t, store.AnchorValid, status)

	_, ok = CalculateMajorityVote([]store.AnchorStatus{store.AnchorValid, store.AnchorDrifted})
	require.False(t, ok)
}

func TestVerifyIDsTakesSequentialPathBelowThreshold(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "match.go"), []byte("x"), 0o644))

	db := openTestDB(t)
	l := mustCreateLearning(t, db)
	var ids []int64
	for i := 0; i < 5; i++ {
		a, err := db.CreateAnchor(ctx, store.CreateAnchorInput{
			LearningID: l.ID, AnchorType: store.AnchorGlob, AnchorValue: "*.go", FilePath: "match.go",
		})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	svc := NewService(db, dir, time.Hour)
	stats, err := svc.VerifyIDs(ctx, ids, DefaultSwarmOptions())
	require.NoError(t, err)
	require.Len(t, stats.AgentDurations, 1)
	require.Equal(t, 5, stats.ActionCounts[ActionUnchanged])
}

func TestVerifyIDsUsesSwarmPathAboveThreshold(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "match.go"), []byte("x"), 0o644))

	db := openTestDB(t)
	l := mustCreateLearning(t, db)
	var ids []int64
	for i := 0; i < 25; i++ {
		a, err := db.CreateAnchor(ctx, store.CreateAnchorInput{
			LearningID: l.ID, AnchorType: store.AnchorGlob, AnchorValue: "*.go", FilePath: "match.go",
		})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}

	svc := NewService(db, dir, time.Hour)
	stats, err := svc.VerifyIDs(ctx, ids, DefaultSwarmOptions())
	require.NoError(t, err)
	require.Len(t, stats.Outcomes, 25)
	require.Empty(t, stats.NeedsReview)
}
