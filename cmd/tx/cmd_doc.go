package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jamesaphoenix/tx-sub011/internal/docgraph"
	"github.com/jamesaphoenix/tx-sub011/internal/store"
)

var docCmd = &cobra.Command{
	Use:   "doc",
	Short: "Create, version, link, render, and audit the doc graph",
}

var (
	docKind        string
	docTitle       string
	docDescription string
)

var docCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a new doc (overview|prd|design)",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocCreate,
}

var docLockCmd = &cobra.Command{
	Use:   "lock [id]",
	Short: "Lock a doc so it may be versioned or patched",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocLock,
}

var docVersionCmd = &cobra.Command{
	Use:   "version [id]",
	Short: "Create a new version of a locked doc",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocVersion,
}

var docPatchCmd = &cobra.Command{
	Use:   "patch [designID] [name]",
	Short: "Create a patch doc linked to a locked design doc",
	Args:  cobra.ExactArgs(2),
	RunE:  runDocPatch,
}

var docLinkCmd = &cobra.Command{
	Use:   "link [fromID] [toID]",
	Short: "Link two docs, deriving the link type from their kinds when unset",
	Args:  cobra.ExactArgs(2),
	RunE:  runDocLink,
}

var docRenderCmd = &cobra.Command{
	Use:   "render [name]",
	Short: "Render one doc (or all docs, if name is omitted) to Markdown",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDocRender,
}

var docDriftCmd = &cobra.Command{
	Use:   "drift [name]",
	Short: "Detect dangling task links, missing test refs, and stale checks",
	Args:  cobra.ExactArgs(1),
	RunE:  runDocDrift,
}

func init() {
	docCreateCmd.Flags().StringVar(&docKind, "kind", "overview", "Doc kind: overview, prd, design")
	docCreateCmd.Flags().StringVar(&docTitle, "title", "", "Doc title (required)")
	docCreateCmd.Flags().StringVar(&docDescription, "description", "", "Doc description")
	docCreateCmd.MarkFlagRequired("title")

	docVersionCmd.Flags().StringVar(&docTitle, "title", "", "New version's title (required)")
	docVersionCmd.Flags().StringVar(&docDescription, "description", "", "New version's description")
	docVersionCmd.MarkFlagRequired("title")

	docPatchCmd.Flags().StringVar(&docTitle, "title", "", "Patch title (required)")
	docPatchCmd.Flags().StringVar(&docDescription, "description", "", "Patch description")
	docPatchCmd.MarkFlagRequired("title")

	docCmd.AddCommand(docCreateCmd, docLockCmd, docVersionCmd, docPatchCmd, docLinkCmd, docRenderCmd, docDriftCmd)
}

func newDocService() (*docgraph.Service, *store.DB, error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loadConfig()
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return docgraph.NewService(db, docsDir(cfg.Config)), db, nil
}

func runDocCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, db, err := newDocService()
	if err != nil {
		return err
	}
	defer db.Close()

	doc, err := svc.Create(ctx, docgraph.CreateInput{
		Kind: store.DocKind(docKind), Name: args[0], Title: docTitle, Description: docDescription,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created doc %d: %s (%s)\n", doc.ID, doc.Name, doc.FilePath)
	return nil
}

func runDocLock(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, db, err := newDocService()
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid doc id %q: %w", args[0], err)
	}
	doc, err := svc.Lock(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "locked doc %d (%s)\n", doc.ID, doc.Status)
	return nil
}

func runDocVersion(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, db, err := newDocService()
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid doc id %q: %w", args[0], err)
	}
	doc, err := svc.CreateVersion(ctx, id, docTitle, docDescription, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created version %d of doc %s (id=%d)\n", doc.Version, doc.Name, doc.ID)
	return nil
}

func runDocPatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, db, err := newDocService()
	if err != nil {
		return err
	}
	defer db.Close()

	designID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid design id %q: %w", args[0], err)
	}
	patch, err := svc.CreatePatch(ctx, designID, args[1], docTitle, docDescription, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "created patch doc %d: %s\n", patch.ID, patch.Name)
	return nil
}

func runDocLink(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, db, err := newDocService()
	if err != nil {
		return err
	}
	defer db.Close()

	fromID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid from-id %q: %w", args[0], err)
	}
	toID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid to-id %q: %w", args[1], err)
	}
	link, err := svc.LinkDocs(ctx, fromID, toID, "")
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "linked %d -> %d as %s\n", fromID, toID, link.LinkType)
	return nil
}

func runDocRender(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, db, err := newDocService()
	if err != nil {
		return err
	}
	defer db.Close()

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	paths, err := svc.Render(ctx, name)
	if err != nil {
		return err
	}
	for _, p := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), p)
	}
	return nil
}

func runDocDrift(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, db, err := newDocService()
	if err != nil {
		return err
	}
	defer db.Close()

	warnings, err := svc.DetectDrift(ctx, args[0])
	if err != nil {
		return err
	}
	if len(warnings) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no drift detected")
		return nil
	}
	for _, w := range warnings {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%s)\n", w.Kind, w.Subject, w.Detail)
	}
	return nil
}
