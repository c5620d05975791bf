// Package cli implements settlectl, the operator tool for the payment ledger.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/folioforge/backend/internal/config"
	"github.com/folioforge/backend/internal/logger"
	"github.com/folioforge/backend/internal/repository"
	"github.com/folioforge/backend/internal/server"
	"github.com/folioforge/backend/internal/service"
	"github.com/folioforge/backend/pkg/crypto"
	"github.com/spf13/cobra"
)

// Env is what the commands operate on.
type Env struct {
	Store  repository.Store
	Sealer *crypto.Sealer
}

// Loader opens an Env. The returned func releases it.
type Loader func(ctx context.Context) (*Env, func(), error)

// ConfigLoader opens the store named by the environment configuration.
func ConfigLoader() Loader {
	return func(ctx context.Context) (*Env, func(), error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, nil, err
		}
		if _, err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
			return nil, nil, err
		}
		store, closeStore, err := server.OpenStore(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		sealer, err := crypto.NewSealer(cfg.EncryptionKey)
		if err != nil {
			closeStore()
			return nil, nil, err
		}
		return &Env{Store: store, Sealer: sealer}, closeStore, nil
	}
}

// NewRootCmd builds the settlectl command tree.
func NewRootCmd(load Loader, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "settlectl",
		Short:         "settlectl - inspect and repair the payment ledger",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	rootCmd.AddCommand(showCmd(load))
	rootCmd.AddCommand(listCmd(load))
	rootCmd.AddCommand(statsCmd(load))
	rootCmd.AddCommand(rebuildCmd(load))
	rootCmd.AddCommand(sweepCmd(load))

	return rootCmd
}

// withEnv opens the Env for the duration of fn.
func withEnv(cmd *cobra.Command, load Loader, fn func(ctx context.Context, env *Env) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, release, err := load(ctx)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer release()
	return fn(ctx, env)
}

func billing(env *Env) *service.BillingService {
	return service.NewBillingService(env.Store)
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
