package admin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cloo-solutions/vectis/internal/config"
	"github.com/cloo-solutions/vectis/internal/provider"
	"github.com/cloo-solutions/vectis/internal/repository"
	"github.com/cloo-solutions/vectis/internal/service"
)

func ReconcileCmd() *cobra.Command {
	var (
		kbID   string
		docID  string
		dryRun bool
	)

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile indexed state against tag policy",
		Long:  "Detect and repair drift between knowledge base tag rules and what is actually indexed. Target a knowledge base, a document, or both.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runReconcile(kbID, docID, dryRun, outputFormat)
		},
	}

	cmd.Flags().StringVar(&kbID, "kb", "", "Knowledge base to sweep")
	cmd.Flags().StringVar(&docID, "document", "", "Document to reconcile (across all matching bases if --kb is omitted)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report issues without repairing")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")

	return cmd
}

func runReconcile(kbID, docID string, dryRun bool, outputFormat string) error {
	ctx := context.Background()

	if kbID == "" && docID == "" {
		return fmt.Errorf("at least one of --kb or --document is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	kbRepo := repository.NewKnowledgeBaseRepository(pool)
	docRepo := repository.NewDocumentRepository(pool)
	indexRepo := repository.NewDocumentIndexRepository(pool)
	vectorRepo := repository.NewVectorRepository(pool)
	cacheRepo := repository.NewEmbeddingCacheRepository(pool)
	lockRepo := repository.NewLockRepository(pool)
	jobRepo := repository.NewIndexJobRepository(pool)
	orgRepo := repository.NewOrganizationRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	embeddingClient := provider.NewClientWithConfig(provider.Config{
		APIKey:              cfg.OpenAIAPIKey,
		EmbeddingDimensions: cfg.DefaultEmbeddingDim,
	})
	embedder := service.NewEmbedder(embeddingClient, cacheRepo, orgRepo)
	pipeline := service.NewIndexingPipeline(kbRepo, docRepo, embedder, txRunner)
	reconciler := service.NewReconciler(kbRepo, docRepo, indexRepo, vectorRepo, pipeline, jobRepo, lockRepo).
		WithConfig(service.ReconcilerConfig{LeaseTTL: cfg.ReconcileLeaseTTL})

	report, err := reconciler.Reconcile(ctx, service.ReconcileInput{
		KBID:       kbID,
		DocumentID: docID,
		DryRun:     dryRun,
	})
	if err != nil {
		return fmt.Errorf("reconcile failed: %w", err)
	}

	if outputFormat == "json" {
		jsonBytes, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(jsonBytes))
		return nil
	}

	if report.LeaseSkipped {
		fmt.Println("Sweep skipped: lease held by another worker")
		return nil
	}
	if len(report.Issues) == 0 {
		fmt.Println("No drift detected")
	}
	for _, issue := range report.Issues {
		fmt.Printf("  %s: kb %s, document %s\n", issue.Type, issue.KBID, issue.DocumentID)
	}
	if !dryRun && report.Repaired > 0 {
		fmt.Printf("Repaired %d of %d issues\n", report.Repaired, len(report.Issues))
	}
	for _, msg := range report.Errors {
		fmt.Printf("  error: %s\n", msg)
	}
	return nil
}
