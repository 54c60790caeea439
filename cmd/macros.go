package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dvbotkin/macrotape/internal/loader"
	"github.com/dvbotkin/macrotape/internal/observability"
	"github.com/dvbotkin/macrotape/internal/store"
)

// openStore connects to the configured shared macro store.
func openStore(ctx context.Context, logger *zap.Logger) (*store.Store, func(), error) {
	if !cfg.Store.Enabled {
		return nil, nil, fmt.Errorf("the macro store is not enabled; set store.enabled and MACROTAPE_DB_URL")
	}
	pool, err := pgxpool.New(ctx, cfg.Store.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to macro store: %w", err)
	}
	st, err := store.New(ctx, pool, logger)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	if err := st.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

// newMacrosCmd groups shared-store management under one command.
func newMacrosCmd() *cobra.Command {
	macrosCmd := &cobra.Command{
		Use:   "macros",
		Short: "Manages the shared macro store",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lists macros in the shared store",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cleanup, err := openStore(cmd.Context(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			names, err := st.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}

	pushCmd := &cobra.Command{
		Use:   "push [file]",
		Short: "Uploads a local macro to the shared store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			st, cleanup, err := openStore(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer cleanup()

			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read macro: %w", err)
			}
			name := filepath.Base(args[0])
			if err := st.Put(cmd.Context(), name, string(data)); err != nil {
				return err
			}
			logger.Info("Macro pushed", zap.String("name", name))
			return nil
		},
	}

	pullCmd := &cobra.Command{
		Use:   "pull [name]",
		Short: "Downloads a macro from the shared store into the local library",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := observability.GetLogger()
			st, cleanup, err := openStore(cmd.Context(), logger)
			if err != nil {
				return err
			}
			defer cleanup()

			name := args[0]
			if !strings.Contains(name, ".") {
				name += loader.DefaultExtension
			}
			body, err := st.Get(cmd.Context(), name)
			if err != nil {
				return err
			}

			dir, err := loader.NewDir(cfg.Macros.Dir, logger)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(dir.Root(), 0o755); err != nil {
				return err
			}
			path := filepath.Join(dir.Root(), name)
			if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
				return err
			}
			logger.Info("Macro pulled", zap.String("path", path))
			return nil
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm [name]",
		Short: "Removes a macro from the shared store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cleanup, err := openStore(cmd.Context(), observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()
			return st.Delete(cmd.Context(), args[0])
		},
	}

	macrosCmd.AddCommand(listCmd, pushCmd, pullCmd, rmCmd)
	return macrosCmd
}

func init() {
	rootCmd.AddCommand(newMacrosCmd())
}
