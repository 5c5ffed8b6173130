package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/sheikh-saqib/equipment-funding-ledger/internal/app"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/backup"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/config"
	interfaces "github.com/sheikh-saqib/equipment-funding-ledger/internal/interfaces"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/ledger"
	"github.com/sheikh-saqib/equipment-funding-ledger/internal/seed"
)

// session is one command's view of the configured ledger.
type session struct {
	cfg    config.Config
	store  interfaces.LedgerStore
	ledger *ledger.Ledger
	close  func()
}

func openSession(cmd *cobra.Command) (*session, error) {
	envDir, _ := cmd.Flags().GetString("env-dir")
	cfg, err := config.LoadConfig(envDir)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cmd)

	store, closeStore, err := app.OpenStore(cmd.Context(), cfg, logger)
	if err != nil {
		return nil, err
	}
	publisher, closePublisher := app.OpenPublisher(cfg, logger)

	return &session{
		cfg:    cfg,
		store:  store,
		ledger: app.NewLedger(store, publisher, cfg, logger),
		close: func() {
			closePublisher()
			closeStore()
		},
	}, nil
}

// withSession opens the ledger for the duration of fn.
func withSession(fn func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer s.close()
		return fn(cmd.Context(), s, cmd, args)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func decimalFlag(cmd *cobra.Command, name string) (decimal.Decimal, error) {
	raw, _ := cmd.Flags().GetString(name)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("--%s: %q is not a number", name, raw)
	}
	return d, nil
}

func listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List equipment items with their funding progress",
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			collection, err := s.ledger.ListAll(ctx)
			if err != nil {
				return err
			}
			city, _ := cmd.Flags().GetString("city")
			category, _ := cmd.Flags().GetString("category")
			collection = collection.Filter(city, category)

			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				return printJSON(collection)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tCITY\tCATEGORY\tRAISED\tTARGET\tPROGRESS\tFUNDED")
			for _, item := range collection.Equipment {
				raised := ledger.TotalDonated(item.ID, collection.Donations)
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d%%\t%t\n",
					item.ID, item.Name, item.City, item.Category, raised.StringFixed(2), item.Target.StringFixed(2), item.Progress, item.Funded)
			}
			return w.Flush()
		}),
	}
	cmd.Flags().String("city", "", "Only items in this city")
	cmd.Flags().String("category", "", "Only items in this category")
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}

func addEquipmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add-equipment",
		Short: "Add an equipment item to fund",
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			target, err := decimalFlag(cmd, "target")
			if err != nil {
				return err
			}
			name, _ := cmd.Flags().GetString("name")
			category, _ := cmd.Flags().GetString("category")
			city, _ := cmd.Flags().GetString("city")
			description, _ := cmd.Flags().GetString("description")

			item, err := s.ledger.AddEquipment(ctx, ledger.AddEquipmentRequest{
				Name: name, Target: target, Category: category, City: city, Description: description,
			})
			if err != nil {
				return err
			}
			return printJSON(item)
		}),
	}
	cmd.Flags().String("name", "", "Item name")
	cmd.Flags().String("target", "", "Funding target")
	cmd.Flags().String("category", "", "Category")
	cmd.Flags().String("city", "", "City")
	cmd.Flags().String("description", "", "Description")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}

func updateEquipmentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update-equipment [id]",
		Short: "Change descriptive fields or the target of an item",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			req := ledger.UpdateEquipmentRequest{ID: args[0]}
			str := func(name string) *string {
				if !cmd.Flags().Changed(name) {
					return nil
				}
				v, _ := cmd.Flags().GetString(name)
				return &v
			}
			req.Name = str("name")
			req.Category = str("category")
			req.City = str("city")
			req.Description = str("description")
			if cmd.Flags().Changed("target") {
				target, err := decimalFlag(cmd, "target")
				if err != nil {
					return err
				}
				req.Target = &target
			}

			item, err := s.ledger.UpdateEquipment(ctx, req)
			if err != nil {
				return err
			}
			return printJSON(item)
		}),
	}
	cmd.Flags().String("name", "", "New name")
	cmd.Flags().String("target", "", "New funding target")
	cmd.Flags().String("category", "", "New category")
	cmd.Flags().String("city", "", "New city")
	cmd.Flags().String("description", "", "New description")
	return cmd
}

func recordDonationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record-donation [equipment-id]",
		Short: "Record a donation made outside the payment gateway",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			amount, err := decimalFlag(cmd, "amount")
			if err != nil {
				return err
			}
			donorName, _ := cmd.Flags().GetString("donor-name")
			donorEmail, _ := cmd.Flags().GetString("donor-email")
			message, _ := cmd.Flags().GetString("message")
			reference, _ := cmd.Flags().GetString("reference")

			receipt, err := s.ledger.RecordDonation(ctx, ledger.RecordDonationRequest{
				EquipmentID:      args[0],
				Amount:           amount,
				DonorName:        donorName,
				DonorEmail:       donorEmail,
				Message:          message,
				PaymentReference: reference,
			})
			if err != nil {
				return err
			}
			return printJSON(receipt)
		}),
	}
	cmd.Flags().String("amount", "", "Donation amount")
	cmd.Flags().String("donor-name", "", "Donor name (default Anonymous)")
	cmd.Flags().String("donor-email", "", "Donor email")
	cmd.Flags().String("message", "", "Message from the donor")
	cmd.Flags().String("reference", "", "Payment reference; a repeated reference is not recorded twice")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func setProgressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-progress [equipment-id] [percent]",
		Short: "Override an item's progress until the next donation",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			progress, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("percent %q is not an integer", args[1])
			}
			item, err := s.ledger.SetProgress(ctx, ledger.SetProgressRequest{EquipmentID: args[0], Progress: progress})
			if err != nil {
				return err
			}
			return printJSON(item)
		}),
	}
}

func voidDonationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "void-donation [donation-id]",
		Short: "Void a refunded donation and recompute its item",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			reason, _ := cmd.Flags().GetString("reason")
			receipt, err := s.ledger.VoidDonation(ctx, ledger.VoidDonationRequest{DonationID: args[0], Reason: reason})
			if err != nil {
				return err
			}
			return printJSON(receipt)
		}),
	}
	cmd.Flags().String("reason", "", "Why the donation is voided")
	return cmd
}

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed [file.yaml]",
		Short: "Add the equipment listed in a YAML catalog, skipping items that exist",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			catalog, err := seed.Parse(f)
			if err != nil {
				return err
			}
			res, err := seed.Apply(ctx, s.ledger, catalog)
			for _, item := range res.Added {
				fmt.Printf("added    %s  %s (%s)\n", item.ID, item.Name, item.City)
			}
			for _, name := range res.Skipped {
				fmt.Printf("skipped  %s (already present)\n", name)
			}
			return err
		}),
	}
}

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Upload a JSON snapshot of the ledger to S3",
		RunE: withSession(func(ctx context.Context, s *session, cmd *cobra.Command, args []string) error {
			bucket := s.cfg.BackupS3Bucket
			if cmd.Flags().Changed("bucket") {
				bucket, _ = cmd.Flags().GetString("bucket")
			}
			prefix := s.cfg.BackupS3Prefix
			if cmd.Flags().Changed("prefix") {
				prefix, _ = cmd.Flags().GetString("prefix")
			}

			awsCfg, err := app.AWSConfig(ctx, s.cfg)
			if err != nil {
				return err
			}
			uri, err := backup.NewS3Backup(s3.NewFromConfig(awsCfg), bucket, prefix).Snapshot(ctx, s.store)
			if err != nil {
				return err
			}
			fmt.Println(uri)
			return nil
		}),
	}
	cmd.Flags().String("bucket", "", "S3 bucket (default BACKUP_S3_BUCKET)")
	cmd.Flags().String("prefix", "", "Key prefix (default BACKUP_S3_PREFIX)")
	return cmd
}
