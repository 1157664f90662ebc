package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/nhle/mensabot/internal/credential"
	"github.com/nhle/mensabot/internal/lookup"
	"github.com/nhle/mensabot/internal/model"
)

const shutdownNoticeTimeout = 10 * time.Second

func newRefetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refetch",
		Short: "Fetch the menu now, then check alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.scheduler.Refetch(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newRecheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recheck [user-id...]",
		Short: "Check alerts against the stored menu",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			report, err := a.scheduler.Recheck(cmd.Context(), ids...)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show what the menu store holds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			users, err := a.store.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"menu":    a.menus.Stats(),
				"users":   len(users),
				"lookups": a.lookups.Current().Len(),
			})
		},
	}
}

// newLookupCmd reads the lookup table directly; it needs no database.
func newLookupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lookup [code]",
		Short: "List allergen and additive codes, or resolve one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := model.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			tbl, err := lookup.Load(cfg.Lookup.Path, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				return printJSON(out, tbl.Resolve(args[0]))
			}
			for _, e := range tbl.Entries() {
				fmt.Fprintf(out, "%-5s %s\n", e.Code, e.Description)
			}
			return nil
		},
	}
}

func newUsersCmd() *cobra.Command {
	users := &cobra.Command{
		Use:   "users",
		Short: "Inspect and remove registered users",
	}

	users.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users with their alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			list, err := a.store.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, u := range list {
				muted := ""
				if u.Muted {
					muted = " (muted)"
				}
				fmt.Fprintf(out, "%d\t%s\t%s\t%d alerts%s\n", u.ID, u.Name, u.Status, len(u.Alerts), muted)
			}
			return nil
		},
	})

	users.AddCommand(&cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete a user with their alerts and delivery records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.DeleteUser(cmd.Context(), ids[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted user %d\n", ids[0])
			return nil
		},
	})
	return users
}

// newSecretCmd manages the keyring entries the IMAP transport reads.
func newSecretCmd() *cobra.Command {
	secret := &cobra.Command{
		Use:   "secret",
		Short: "Manage secrets in the OS keyring",
	}

	secret.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Store a secret",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := credential.Open("")
			if err != nil {
				return err
			}
			return ring.Set(args[0], args[1])
		},
	})

	secret.AddCommand(&cobra.Command{
		Use:   "delete <key>",
		Short: "Remove a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ring, err := credential.Open("")
			if err != nil {
				return err
			}
			return ring.Delete(args[0])
		},
	})
	return secret
}

func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}
