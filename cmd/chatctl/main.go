// Command chatctl provisions friendchat accounts and issues session tokens.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/friendchat/internal/auth"
	"github.com/Tyrowin/friendchat/internal/server"
	"github.com/Tyrowin/friendchat/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "chatctl",
	Short: "Operator tool for the friendchat server",
	Long: `chatctl creates user accounts in the friendchat database and issues
session tokens for the WebSocket endpoint. Settings are read from the same
environment variables (and .env file) as the server.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().String("db", "", "database path (default from DB_PATH)")

	rootCmd.AddCommand(newUserAddCmd(), newTokenCmd())
}

func openStore(cmd *cobra.Command) (*store.Store, error) {
	cfg := server.NewConfigFromEnv()
	path, _ := cmd.Flags().GetString("db")
	if path == "" {
		path = cfg.DBPath
	}
	media, err := store.NewMedia(cfg.MediaDir)
	if err != nil {
		return nil, err
	}
	return store.New(path, media, nil)
}

func newUserAddCmd() *cobra.Command {
	var in store.NewUser

	cmd := &cobra.Command{
		Use:   "useradd",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			user, err := db.CreateUser(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %s (id %d)\n", user.Username, user.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&in.Username, "username", "u", "", "unique handle")
	cmd.Flags().StringVar(&in.FirstName, "first", "", "first name")
	cmd.Flags().StringVar(&in.LastName, "last", "", "last name")
	cmd.Flags().StringVarP(&in.Password, "password", "p", "", "password")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var (
		username string
		ttl      time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for an existing user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := server.NewConfigFromEnv()
			tokens, err := auth.NewTokens(cfg.AuthSecret)
			if err != nil {
				return fmt.Errorf("AUTH_SECRET must be set: %w", err)
			}

			db, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			user, err := db.FindUserByHandle(cmd.Context(), username)
			if err != nil {
				return fmt.Errorf("user %q: %w", username, err)
			}
			token, err := tokens.Issue(user.Username, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&username, "username", "u", "", "handle to issue the token for")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}
