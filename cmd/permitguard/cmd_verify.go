package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/permitguard/permitguard/internal/models"
	"github.com/permitguard/permitguard/internal/service"
	"github.com/permitguard/permitguard/internal/store"
)

// errIntegrity makes the command exit non-zero after printing a failed report.
var errIntegrity = errors.New("integrity check failed")

func newVerifyCmd() *cobra.Command {
	var subject string

	cmd := &cobra.Command{
		Use:   "verify [entry-id]",
		Short: "Recompute stored audit hashes for one entry or a subject's whole chain",
		Args: func(cmd *cobra.Command, args []string) error {
			if subject == "" && len(args) != 1 {
				return fmt.Errorf("requires an entry id or --subject")
			}
			if subject != "" && len(args) > 0 {
				return fmt.Errorf("an entry id and --subject are mutually exclusive")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			_, log, pool, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			entries := store.NewAuditStore(store.Base{Pool: pool, Log: log})
			verifier := service.NewIntegrityVerifier(entries, service.NopNotifier{}, log)

			if subject != "" {
				report, err := verifier.VerifyChain(ctx, subject)
				if err != nil {
					return err
				}
				printChainReport(report)
				if !report.Valid {
					return errIntegrity
				}
				return nil
			}

			report, err := verifier.Verify(ctx, args[0])
			if report == nil {
				return err
			}
			printEntryReport(report)
			if !report.Valid {
				return errIntegrity
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "", "Verify every entry and link of this subject's chain")

	return cmd
}

func printEntryReport(r *models.IntegrityReport) {
	if flagFmt != "table" {
		formatJSON(r)
		return
	}

	formatTable(
		[]string{"ENTRY", "VALID", "STORED HASH", "ANCHOR"},
		[][]string{{r.EntryID, strconv.FormatBool(r.Valid), truncate(r.StoredHash, 16), r.AnchorStatus}},
	)
}

func printChainReport(r *models.ChainReport) {
	if flagFmt != "table" {
		formatJSON(r)
		return
	}

	formatTable(
		[]string{"SUBJECT", "ENTRIES", "VALID", "BROKEN AT", "REASON"},
		[][]string{{r.SubjectID, strconv.Itoa(r.Entries), strconv.FormatBool(r.Valid), r.BrokenAt, r.BrokenReason}},
	)
}
