package docgraph

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/jamesaphoenix/tx-sub011/internal/apitypes"
	"github.com/jamesaphoenix/tx-sub011/internal/logging"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

// Service implements DocService: create/update/lock/createVersion/
// createPatch/linkDocs/render (spec.md §4.F).
type Service struct {
	db      *store.DB
	docsDir string
}

// NewService builds a Service that writes doc bodies under docsDir.
func NewService(db *store.DB, docsDir string) *Service {
	return &Service{db: db, docsDir: docsDir}
}

func (s *Service) filePath(name string) string {
	return filepath.Join(s.docsDir, name+".yml")
}

func (s *Service) versionedFilePath(name string, version int) string {
	return filepath.Join(s.docsDir, fmt.Sprintf("%s.v%d.yml", name, version))
}

// CreateInput carries the fields needed to create a new doc.
type CreateInput struct {
	Kind        store.DocKind
	Name        string
	Title       string
	Description string
	Invariants  []InvariantBody
}

// Create validates kind/name/title, writes the YAML body to
// ${docsDir}/${name}.yml, and inserts the index row at version 1
// (spec.md §4.F).
func (s *Service) Create(ctx context.Context, in CreateInput) (*store.Doc, error) {
	if in.Name == "" || in.Title == "" {
		return nil, apitypes.Validation("doc name and title must not be empty")
	}
	switch in.Kind {
	case store.DocOverview, store.DocPRD, store.DocDesign:
	default:
		return nil, apitypes.Validation("doc kind must be one of overview, prd, design")
	}

	body := Body{Kind: string(in.Kind), Name: in.Name, Title: in.Title, Description: in.Description, Invariants: in.Invariants}
	hash, data, err := hashBody(body)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagInternalError, "marshal doc body", err)
	}
	path := s.filePath(in.Name)
	if err := writeBodyFile(path, data); err != nil {
		return nil, apitypes.Wrap(apitypes.TagIO, "write doc file", err)
	}

	doc, err := s.db.CreateDoc(ctx, store.CreateDocInput{Hash: hash, Kind: in.Kind, Name: in.Name, Title: in.Title, FilePath: path})
	if err != nil {
		return nil, err
	}
	if err := s.syncInvariants(ctx, doc.ID, in.Invariants); err != nil {
		return nil, err
	}
	logging.Doc("created doc %s (%s) v%d", in.Name, in.Kind, doc.Version)
	return doc, nil
}

// Update rewrites a doc's body, forbidden once the doc is locked. The file
// is replaced atomically, the hash recomputed, and invariants re-synced
// (spec.md §4.F).
func (s *Service) Update(ctx context.Context, id int64, title, description string, invariants []InvariantBody) (*store.Doc, error) {
	doc, err := s.db.GetDoc(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == store.DocLocked {
		return nil, apitypes.Validation("cannot update a locked doc; create a new version instead")
	}

	body := Body{Kind: string(doc.Kind), Name: doc.Name, Title: title, Description: description, Invariants: invariants}
	hash, data, err := hashBody(body)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagInternalError, "marshal doc body", err)
	}
	if err := writeBodyFile(doc.FilePath, data); err != nil {
		return nil, apitypes.Wrap(apitypes.TagIO, "write doc file", err)
	}

	if err := s.db.UpdateDocTitleAndHash(ctx, id, title, hash); err != nil {
		return nil, err
	}
	if err := s.syncInvariants(ctx, id, invariants); err != nil {
		return nil, err
	}
	logging.Doc("updated doc %s (id=%d)", doc.Name, id)
	return s.db.GetDoc(ctx, id)
}

// Lock transitions a doc to locked, idempotently (spec.md §4.F).
func (s *Service) Lock(ctx context.Context, id int64) (*store.Doc, error) {
	return s.db.LockDoc(ctx, id)
}

// CreateVersion copies a locked doc's body into a new version+1 row with a
// version-suffixed file path (spec.md §4.F).
func (s *Service) CreateVersion(ctx context.Context, priorID int64, title, description string, invariants []InvariantBody) (*store.Doc, error) {
	prior, err := s.db.GetDoc(ctx, priorID)
	if err != nil {
		return nil, err
	}
	if prior.Status != store.DocLocked {
		return nil, apitypes.Validation("cannot version a doc that is not locked")
	}

	body := Body{Kind: string(prior.Kind), Name: prior.Name, Title: title, Description: description, Invariants: invariants}
	hash, data, err := hashBody(body)
	if err != nil {
		return nil, apitypes.Wrap(apitypes.TagInternalError, "marshal doc body", err)
	}
	path := s.versionedFilePath(prior.Name, prior.Version+1)
	if err := writeBodyFile(path, data); err != nil {
		return nil, apitypes.Wrap(apitypes.TagIO, "write doc version file", err)
	}

	doc, err := s.db.CreateDocVersion(ctx, priorID, hash, title, path)
	if err != nil {
		return nil, err
	}
	if err := s.syncInvariants(ctx, doc.ID, invariants); err != nil {
		return nil, err
	}
	logging.Doc("created version %d of doc %s", doc.Version, doc.Name)
	return doc, nil
}

// CreatePatch creates a design doc parented to lockedDesignID, linked with
// linkType = design_patch (spec.md §4.F).
func (s *Service) CreatePatch(ctx context.Context, lockedDesignID int64, name, title, description string, invariants []InvariantBody) (*store.Doc, error) {
	design, err := s.db.GetDoc(ctx, lockedDesignID)
	if err != nil {
		return nil, err
	}
	if design.Kind != store.DocDesign {
		return nil, apitypes.Validation("patches may only target a design doc")
	}
	if design.Status != store.DocLocked {
		return nil, apitypes.Validation("cannot patch a design doc that is not locked")
	}

	patch, err := s.Create(ctx, CreateInput{Kind: store.DocDesign, Name: name, Title: title, Description: description, Invariants: invariants})
	if err != nil {
		return nil, err
	}
	if _, err := s.db.LinkDocs(ctx, lockedDesignID, patch.ID, store.LinkDesignPatch); err != nil {
		return nil, err
	}
	return patch, nil
}

// defaultLinkType derives the link type between two kinds, matching
// spec.md §4.F's overview->prd, prd->design, overview->design, and
// design->design (patch) defaults.
func defaultLinkType(fromKind, toKind store.DocKind) (store.DocLinkType, error) {
	switch {
	case fromKind == store.DocOverview && toKind == store.DocPRD:
		return store.LinkOverviewToPRD, nil
	case fromKind == store.DocOverview && toKind == store.DocDesign:
		return store.LinkOverviewToDesign, nil
	case fromKind == store.DocPRD && toKind == store.DocDesign:
		return store.LinkPRDToDesign, nil
	case fromKind == store.DocDesign && toKind == store.DocDesign:
		return store.LinkDesignPatch, nil
	default:
		return "", apitypes.Validation(fmt.Sprintf("no default link type from %s to %s", fromKind, toKind))
	}
}

// LinkDocs creates a typed edge between two docs. When linkType is empty,
// the default is derived from the docs' kinds (spec.md §4.F).
func (s *Service) LinkDocs(ctx context.Context, fromDocID, toDocID int64, linkType store.DocLinkType) (*store.DocLink, error) {
	if linkType == "" {
		from, err := s.db.GetDoc(ctx, fromDocID)
		if err != nil {
			return nil, err
		}
		to, err := s.db.GetDoc(ctx, toDocID)
		if err != nil {
			return nil, err
		}
		derived, err := defaultLinkType(from.Kind, to.Kind)
		if err != nil {
			return nil, err
		}
		linkType = derived
	}
	return s.db.LinkDocs(ctx, fromDocID, toDocID, linkType)
}

// syncInvariants upserts every invariant declared in the latest body and
// deprecates prior-active ones that are no longer present. Invariant ids
// are stable across updates and are never hard-deleted (spec.md §4.F).
func (s *Service) syncInvariants(ctx context.Context, docID int64, declared []InvariantBody) error {
	keep := make([]string, 0, len(declared))
	for _, inv := range declared {
		if inv.ID == "" || inv.Rule == "" {
			return apitypes.Validation("invariant id and rule must not be empty")
		}
		keep = append(keep, inv.ID)

		existing, err := s.db.GetInvariant(ctx, inv.ID)
		if err != nil && apitypes.TagOf(err) != apitypes.TagNotFound {
			return err
		}
		if existing == nil {
			if _, err := s.db.CreateInvariant(ctx, store.CreateInvariantInput{
				ID: inv.ID, Rule: inv.Rule, Enforcement: store.EnforcementKind(inv.Enforcement), DocID: docID,
				Subsystem: inv.Subsystem, TestRef: inv.TestRef, LintRule: inv.LintRule, PromptRef: inv.PromptRef,
			}); err != nil {
				return err
			}
			continue
		}
		if err := s.db.UpdateInvariantBody(ctx, inv.ID, inv.Rule, store.EnforcementKind(inv.Enforcement), inv.Subsystem, inv.TestRef, inv.LintRule, inv.PromptRef); err != nil {
			return err
		}
	}
	return s.db.DeprecateInvariantsNotIn(ctx, docID, keep)
}
