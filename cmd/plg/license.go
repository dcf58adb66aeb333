package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cheetahbyte/plg/internal/handlers/dto"
	"github.com/cheetahbyte/plg/internal/server"
	"github.com/spf13/cobra"
)

var licenseCmd = &cobra.Command{
	Use:   "license",
	Short: "Manage licenses",
}

var (
	issueEmail   string
	issueName    string
	issuePlan    string
	issueSeats   int
	issueExpires string
)

var licenseIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a license outside of Stripe checkout",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		req := dto.LicenseCreationRequest{
			Email: issueEmail,
			Name:  issueName,
			Plan:  issuePlan,
			Seats: issueSeats,
		}
		if issueExpires != "" {
			t, err := time.Parse(time.DateOnly, issueExpires)
			if err != nil {
				if t, err = time.Parse(time.RFC3339, issueExpires); err != nil {
					return fmt.Errorf("--expires must be YYYY-MM-DD or RFC 3339: %w", err)
				}
			}
			t = t.UTC()
			req.ExpiresAt = &t
		}

		cfg, _, err := loadConfig("cli")
		if err != nil {
			return err
		}
		store, stack, err := server.NewStack(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer store.Close()

		resp, err := stack.Admin().IssueLicense(cmd.Context(), req)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	},
}

func init() {
	f := licenseIssueCmd.Flags()
	f.StringVar(&issueEmail, "email", "", "customer email (required)")
	f.StringVar(&issueName, "name", "", "customer name")
	f.StringVar(&issuePlan, "plan", "individual", "plan id from the catalog")
	f.IntVar(&issueSeats, "seats", 0, "seat count, defaults to the plan minimum")
	f.StringVar(&issueExpires, "expires", "", "expiry date, YYYY-MM-DD or RFC 3339")
	_ = licenseIssueCmd.MarkFlagRequired("email")

	licenseCmd.AddCommand(licenseIssueCmd)
}
