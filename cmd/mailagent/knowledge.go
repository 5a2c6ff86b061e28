package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"mailagent/internal/domain"
	"mailagent/internal/objectstore"

	"github.com/spf13/cobra"
)

func knowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the knowledge base",
	}

	var dir string
	ingest := &cobra.Command{
		Use:   "ingest [bucket] [name]",
		Short: "Ingest an object into the knowledge base",
		Long: `Loads bucket/name from cloud storage, or from <dir>/bucket/name with --dir,
splits it and replaces any earlier chunks of the same document.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := context.Background()
			kb, err := openKnowledge(cfg)
			if err != nil {
				return err
			}
			defer kb.Close()

			var objects domain.ObjectStore
			if dir != "" {
				objects = objectstore.NewDir(dir)
			} else {
				gcs, err := objectstore.NewGCS(ctx, objectstore.GCSConfig{Project: cfg.Storage.Project, Logger: logger})
				if err != nil {
					return err
				}
				defer gcs.Close()
				objects = gcs
			}

			doc, err := newIngestEngine(kb, objects, cfg).Ingest(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("ingested %s (%d chunks)\n", doc.ID, doc.ChunkCount)
			return nil
		},
	}
	ingest.Flags().StringVar(&dir, "dir", "", "read objects from a local directory instead of cloud storage")
	cmd.AddCommand(ingest)

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List ingested documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			kb, err := openKnowledge(cfg)
			if err != nil {
				return err
			}
			defer kb.Close()

			docs, err := newIngestEngine(kb, nil, cfg).ListDocuments(context.Background())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTYPE\tSIZE\tCHUNKS\tINGESTED")
			for _, d := range docs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", d.ID, d.MimeType, d.Size, d.ChunkCount, d.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a document and its chunks (id is gs://bucket/name)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			kb, err := openKnowledge(cfg)
			if err != nil {
				return err
			}
			defer kb.Close()

			if err := newIngestEngine(kb, nil, cfg).DeleteDocument(context.Background(), args[0]); err != nil {
				return err
			}
			logger.Info("document deleted", "id", args[0])
			return nil
		},
	})

	return cmd
}
