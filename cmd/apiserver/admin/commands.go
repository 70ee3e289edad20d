package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"studybuddy/internal/auth"
	"studybuddy/internal/models"
	"studybuddy/internal/services"
)

func newPurgeUserCmd() *cobra.Command {
	var also []string
	cmd := &cobra.Command{
		Use:   "purge-user <userID>",
		Short: "Remove a user from every other profile's pending requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := env.repair.PurgeUserFromAllReferences(cmd.Context(), args[0], also...)
			if result != nil {
				if perr := printJSON(cmd, result); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&also, "also", nil, "additional user IDs to purge in the same scan")
	return cmd
}

func newRepairUserCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "repair-user <userID>",
		Short: "Drop stale entries from a user's sent and received request lists",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := env.repair.RepairUserReferences(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
}

func newBanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ban <userID>",
		Short: "Ban a user, end their buddy pairing and purge their requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := env.moderation.BanUser(cmd.Context(), services.SystemActor, args[0])
			if result != nil {
				if perr := printJSON(cmd, result); perr != nil {
					return perr
				}
			}
			return err
		},
	}
}

func newUnbanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unban <userID>",
		Short: "Lift a ban",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := env.moderation.UnbanUser(cmd.Context(), services.SystemActor, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unbanned %s\n", args[0])
			return nil
		},
	}
}

func newSetAdminCmd() *cobra.Command {
	var revoke bool
	cmd := &cobra.Command{
		Use:   "set-admin <userID>",
		Short: "Grant or revoke the admin flag on a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			admin := !revoke
			profile, err := env.profiles.Update(cmd.Context(), args[0], models.ProfilePatch{Admin: &admin})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s admin=%t\n", profile.ID, profile.Admin)
			return nil
		},
	}
	cmd.Flags().BoolVar(&revoke, "revoke", false, "remove the admin flag instead of granting it")
	return cmd
}

func newReportsCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "reports [reportedUserID]",
		Short: "List report aggregates, most reported first, or show one user's",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				report, err := env.reports.GetReport(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, report)
			}
			reports, err := env.reports.ListReports(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			return printJSON(cmd, reports)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	return cmd
}

func newIssueTokenCmd() *cobra.Command {
	var username string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "issue-token <userID>",
		Short: "Sign a bearer token for local development",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg := env.cfg.Auth
			if ttl > 0 {
				authCfg.JWTExpiry = ttl
			}
			token, err := auth.GenerateToken(args[0], username, authCfg)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&username, "username", "", "username claim")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default AUTH.JWT_EXPIRY)")
	return cmd
}
