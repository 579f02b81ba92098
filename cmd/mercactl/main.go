// mercactl es la CLI operativa de mercaflow: inspección y remediación de
// credenciales cifradas, y limpieza de integraciones revocadas.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mercaflow/mercaflow/internal/config"
	"github.com/mercaflow/mercaflow/internal/domain/repository"
	"github.com/mercaflow/mercaflow/internal/security/secretbox"
	"github.com/mercaflow/mercaflow/internal/store/pg"
)

type app struct {
	repo   repository.IntegrationRepository
	cipher *secretbox.Cipher
	close  func()
}

func open(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Storage.Driver != "postgres" {
		return nil, fmt.Errorf("mercactl requiere storage.driver=postgres (actual: %s)", cfg.Storage.Driver)
	}
	pool, err := pg.NewPool(ctx, pg.PoolConfig{
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.Postgres.MaxOpenConns,
		MaxIdleConns: cfg.Storage.Postgres.MaxIdleConns,
	})
	if err != nil {
		return nil, err
	}
	cipher, err := secretbox.New(cfg.EncryptionKeyBytes())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("encryption key: %w", err)
	}
	return &app{
		repo:   pg.NewIntegrationRepo(pool),
		cipher: cipher,
		close:  pool.Close,
	}, nil
}

func main() {
	_ = godotenv.Load()

	var configPath string

	root := &cobra.Command{
		Use:           "mercactl",
		Short:         "CLI operativa de mercaflow",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "Path al YAML de configuración")

	// ---- token ----
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Inspección y remediación de credenciales cifradas",
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "Lista integraciones con tokens sin el marcador de cifrado",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			all, err := a.repo.ListAll(ctx)
			if err != nil {
				return err
			}
			legacy := 0
			for _, it := range all {
				if !secretbox.IsEncrypted(it.AccessTokenEnc) || !secretbox.IsEncrypted(it.RefreshTokenEnc) {
					legacy++
					fmt.Printf("LEGACY  %s  tenant=%s  ml_user=%d  status=%s\n",
						it.ID, it.TenantID, it.MLUserID, it.Status)
				}
			}
			fmt.Printf("scanned=%d legacy=%d\n", len(all), legacy)
			return nil
		},
	}

	var dryRun bool
	reencryptCmd := &cobra.Command{
		Use:   "reencrypt",
		Short: "Cifra in-place los tokens legacy almacenados en claro",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			all, err := a.repo.ListAll(ctx)
			if err != nil {
				return err
			}
			fixed := 0
			for _, it := range all {
				if secretbox.IsEncrypted(it.AccessTokenEnc) && secretbox.IsEncrypted(it.RefreshTokenEnc) {
					continue
				}
				accessEnc, refreshEnc := it.AccessTokenEnc, it.RefreshTokenEnc
				if !secretbox.IsEncrypted(accessEnc) {
					if accessEnc, err = a.cipher.Encrypt(accessEnc); err != nil {
						return fmt.Errorf("encrypt access token of %s: %w", it.ID, err)
					}
				}
				if !secretbox.IsEncrypted(refreshEnc) {
					if refreshEnc, err = a.cipher.Encrypt(refreshEnc); err != nil {
						return fmt.Errorf("encrypt refresh token of %s: %w", it.ID, err)
					}
				}
				if dryRun {
					fmt.Printf("DRY-RUN  %s  tenant=%s\n", it.ID, it.TenantID)
					fixed++
					continue
				}
				if err := a.repo.UpdateTokens(ctx, it.ID, repository.UpdateTokensInput{
					AccessTokenEnc:  accessEnc,
					RefreshTokenEnc: refreshEnc,
					TokenExpiresAt:  it.TokenExpiresAt,
				}); err != nil {
					return fmt.Errorf("update %s: %w", it.ID, err)
				}
				fmt.Printf("REENCRYPTED  %s  tenant=%s\n", it.ID, it.TenantID)
				fixed++
			}
			fmt.Printf("scanned=%d fixed=%d dry_run=%v\n", len(all), fixed, dryRun)
			return nil
		},
	}
	reencryptCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Mostrar qué se cifraría sin escribir")

	tokenCmd.AddCommand(scanCmd, reencryptCmd)

	// ---- integration ----
	integrationCmd := &cobra.Command{
		Use:   "integration",
		Short: "Gestión de integraciones",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Lista todas las integraciones",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			all, err := a.repo.ListAll(ctx)
			if err != nil {
				return err
			}
			now := time.Now()
			for _, it := range all {
				fmt.Printf("%s  tenant=%s  ml_user=%d  nickname=%s  status=%s  expires=%s\n",
					it.ID, it.TenantID, it.MLUserID, it.MLNickname,
					it.EffectiveStatus(now), it.TokenExpiresAt.UTC().Format(time.RFC3339))
			}
			fmt.Printf("total=%d\n", len(all))
			return nil
		},
	}

	var olderThan time.Duration
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Purga integraciones revocadas más viejas que el umbral",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := open(ctx, configPath)
			if err != nil {
				return err
			}
			defer a.close()

			n, err := a.repo.DeleteRevoked(ctx, time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("deleted=%d\n", n)
			return nil
		},
	}
	cleanupCmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Antigüedad mínima de filas revoked a purgar")

	integrationCmd.AddCommand(listCmd, cleanupCmd)

	root.AddCommand(tokenCmd, integrationCmd)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
