package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/cloo-solutions/vectis/internal/config"
	"github.com/cloo-solutions/vectis/internal/database"
	"github.com/cloo-solutions/vectis/internal/domain"
	"github.com/cloo-solutions/vectis/internal/repository"
)

func OrgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "org",
		Short: "Manage organizations",
		Long:  "Create organizations, grant embedding credits and inspect usage",
	}

	cmd.AddCommand(OrgCreateCmd())
	cmd.AddCommand(OrgCreditsCmd())
	cmd.AddCommand(OrgUsageCmd())

	return cmd
}

func OrgCreateCmd() *cobra.Command {
	var credits int64

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new organization",
		Long:  "Create a new organization with the specified name and initial credit balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runOrgCreate(args[0], credits, outputFormat)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().Int64Var(&credits, "credits", 0, "Initial embedding credit balance")

	return cmd
}

func runOrgCreate(name string, credits int64, outputFormat string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	orgRepo := repository.NewOrganizationRepository(pool)

	org := &domain.Organization{
		ID:            uuid.NewString(),
		Name:          name,
		CreditBalance: credits,
		CreatedAt:     time.Now().UTC(),
	}
	if err := orgRepo.Create(ctx, org); err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}

	if outputFormat == "json" {
		data := map[string]interface{}{
			"id":             org.ID,
			"name":           org.Name,
			"credit_balance": org.CreditBalance,
			"created_at":     org.CreatedAt,
		}
		jsonBytes, _ := json.MarshalIndent(data, "", "  ")
		fmt.Println(string(jsonBytes))
	} else {
		fmt.Printf("Organization created: %s (%s), credits: %d\n", org.Name, org.ID, org.CreditBalance)
	}

	return nil
}

func OrgCreditsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credits <org-id> <units>",
		Short: "Add embedding credits to an organization",
		Long:  "Add embedding credits to an organization's balance (one credit pays for one embedded chunk)",
		Args:  cobra.ExactArgs(2),
		RunE:  runOrgCredits,
	}

	return cmd
}

func runOrgCredits(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	orgID := args[0]

	units, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil || units <= 0 {
		return fmt.Errorf("units must be a positive integer")
	}

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	orgRepo := repository.NewOrganizationRepository(pool)
	if err := orgRepo.AddCredits(ctx, orgID, units); err != nil {
		return fmt.Errorf("failed to add credits: %w", err)
	}

	org, err := orgRepo.GetByID(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}

	fmt.Printf("Added %d credits to %s, new balance: %d\n", units, org.Name, org.CreditBalance)
	return nil
}

func OrgUsageCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "usage <org-id>",
		Short: "Show recent embedding usage",
		Long:  "List the most recent metered embedding charges for an organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputFormat, _ := cmd.Flags().GetString("output")
			return runOrgUsage(args[0], limit, outputFormat)
		},
	}

	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of records")

	return cmd
}

func runOrgUsage(orgID string, limit int, outputFormat string) error {
	ctx := context.Background()

	pool, err := getDBPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	orgRepo := repository.NewOrganizationRepository(pool)

	org, err := orgRepo.GetByID(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to load organization: %w", err)
	}

	records, err := orgRepo.ListUsage(ctx, orgID, limit)
	if err != nil {
		return fmt.Errorf("failed to list usage: %w", err)
	}

	if outputFormat == "json" {
		data := make([]map[string]interface{}, len(records))
		for i, rec := range records {
			data[i] = map[string]interface{}{
				"id":         rec.ID,
				"units":      rec.Units,
				"provider":   rec.Provider,
				"model":      rec.Model,
				"created_at": rec.CreatedAt,
			}
		}
		output := map[string]interface{}{
			"org_id":         org.ID,
			"credit_balance": org.CreditBalance,
			"records":        data,
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(jsonBytes))
		return nil
	}

	fmt.Printf("Organization %s, balance: %d\n", org.Name, org.CreditBalance)
	if len(records) == 0 {
		fmt.Println("No usage recorded")
		return nil
	}
	for _, rec := range records {
		fmt.Printf("  %s: %d units (%s/%s)\n", rec.CreatedAt.Format("2006-01-02 15:04:05"), rec.Units, rec.Provider, rec.Model)
	}
	return nil
}

func getDBPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPoolFromURL(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return pool, nil
}
