package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/blockadesystems/certregistry/internal/auth"
	"github.com/blockadesystems/certregistry/internal/model"
	"github.com/blockadesystems/certregistry/internal/storage"
)

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create any missing tables and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()
			logger.Info("schema is up to date", zap.String("storage_type", cfg.StorageType))
			return nil
		},
	}
}

func userCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage registry users",
	}

	var (
		username string
		password string
		role     string
		inactive bool
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				return errors.New("--username is required")
			}
			hash, err := auth.HashPassword(password, cfg.BcryptCost)
			if err != nil {
				return err
			}
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			user := model.NewUser(username, hash)
			user.Role = role
			user.IsActive = !inactive
			if err := store.CreateUser(cmd.Context(), user); err != nil {
				return err
			}
			logger.Info("user created", zap.Int64("id", user.ID), zap.String("username", user.Username), zap.String("role", user.Role))
			fmt.Fprintln(cmd.OutOrStdout(), user.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&username, "username", "", "unique username")
	addCmd.Flags().StringVar(&password, "password", "", "password, stored as a bcrypt hash")
	addCmd.Flags().StringVar(&role, "role", model.DefaultRole, "free-text role, e.g. user or admin")
	addCmd.Flags().BoolVar(&inactive, "inactive", false, "create the user disabled")

	cmd.AddCommand(addCmd)
	return cmd
}

func chainCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chain",
		Short: "Inspect certificate chains",
	}

	var chainID int64
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the certificates of a chain in order",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			var (
				chain *model.CertificateChain
				links []*model.CertificateChainLink
				certs []*model.Certificate
			)
			// One snapshot, so the links and their certificates agree.
			err = store.WithinTransaction(cmd.Context(), func(ctx context.Context, tx storage.Storage) error {
				var err error
				if chain, err = tx.GetChain(ctx, chainID); err != nil {
					return err
				}
				if links, err = tx.ListChainLinks(ctx, chainID); err != nil {
					return err
				}
				certs = make([]*model.Certificate, len(links))
				for i, l := range links {
					if certs[i], err = tx.GetCertificate(ctx, l.CertificateID); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			if err := model.ValidateChainOrder(links); err != nil {
				logger.Warn("chain order is not contiguous", zap.Int64("chain_id", chainID), zap.Error(err))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chain %d %q created %s\n", chain.ID, chain.Name, chain.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"))
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ORDER\tSERIAL\tCOMMON NAME\tTYPE\tALGORITHM\tREVOKED")
			for i, l := range links {
				c := certs[i]
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%t\n", l.Order, c.SerialNumber, c.CommonName, c.CertificateType, c.Algorithm, c.Revoked)
			}
			return tw.Flush()
		},
	}
	showCmd.Flags().Int64Var(&chainID, "id", 0, "chain id")
	_ = showCmd.MarkFlagRequired("id")

	cmd.AddCommand(showCmd)
	return cmd
}

func crlCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crl",
		Short: "Inspect revocation lists",
	}

	var issuer string
	nextCmd := &cobra.Command{
		Use:   "next-number",
		Short: "Print the next CRL number for an issuer",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			next, err := store.NextCRLNumber(cmd.Context(), issuer)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), next)
			return nil
		},
	}
	nextCmd.Flags().StringVar(&issuer, "issuer", "", "CRL issuer name")
	_ = nextCmd.MarkFlagRequired("issuer")

	cmd.AddCommand(nextCmd)
	return cmd
}
