package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/identity"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
)

// withPool loads config, opens a pool and hands it to fn.
func withPool(fn func(ctx context.Context, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	// migrate status
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, db.Migrations()).Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd.OutOrStdout(), statuses)
				return nil
			})
		},
	})

	return cmd
}

func printStatus(w io.Writer, statuses []db.MigrationStatus) {
	fmt.Fprintf(w, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	fmt.Fprintln(w, "---------- ---------------------------------------- ---------- --------------------")
	for _, s := range statuses {
		status := "pending"
		appliedAt := ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(w, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Apply migrations and create the default departments and demo profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			demo, _ := cmd.Flags().GetBool("demo")
			out := cmd.OutOrStdout()

			return withPool(func(ctx context.Context, pool *pgxpool.Pool) error {
				if _, err := db.NewMigrator(pool, db.Migrations()).Up(ctx); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintln(out, "Default departments are in place.")
				if !demo {
					return nil
				}

				svc := identity.NewService(
					identity.NewDoctorRepo(pool),
					identity.NewPatientRepo(pool),
					identity.NewDepartmentRepo(pool),
				)
				return seedDemo(ctx, svc, out)
			})
		},
	}
	cmd.Flags().Bool("demo", false, "Also create a demo doctor and patient")
	return cmd
}

// seedDemo creates one doctor in General medicine and one patient. Existing
// usernames are reported and skipped.
func seedDemo(ctx context.Context, svc *identity.Service, out io.Writer) error {
	dept, err := svc.GetDepartmentByName(ctx, "General")
	if err != nil {
		return fmt.Errorf("find department: %w", err)
	}

	doctor := &identity.Doctor{
		FullName:       "Dr. Demo Doctor",
		Username:       "demo.doctor",
		Specialization: "General medicine",
		DepartmentID:   &dept.ID,
	}
	switch err := svc.CreateDoctor(ctx, doctor); {
	case errors.Is(err, identity.ErrDuplicate):
		fmt.Fprintln(out, "Demo doctor already exists.")
	case err != nil:
		return fmt.Errorf("create demo doctor: %w", err)
	default:
		fmt.Fprintf(out, "Created doctor %s (%s)\n", doctor.Username, doctor.ID)
	}

	age := 30
	patient := &identity.Patient{FullName: "Demo Patient", Username: "demo.patient", Age: &age}
	switch err := svc.CreatePatient(ctx, patient); {
	case errors.Is(err, identity.ErrDuplicate):
		fmt.Fprintln(out, "Demo patient already exists.")
	case err != nil:
		return fmt.Errorf("create demo patient: %w", err)
	default:
		fmt.Fprintf(out, "Created patient %s (%s)\n", patient.Username, patient.ID)
	}
	return nil
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local use",
		RunE: func(cmd *cobra.Command, args []string) error {
			sub, _ := cmd.Flags().GetString("sub")
			role, _ := cmd.Flags().GetString("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			cfg, err := config.LoadWithoutDatabase()
			if err != nil {
				return err
			}
			key, err := cfg.SigningKey()
			if err != nil {
				return err
			}

			token, err := mintToken(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				Audience:   cfg.AuthAudience,
				SigningKey: key,
			}, sub, role, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("sub", uuid.Nil.String(), "Profile id of the caller")
	cmd.Flags().String("role", auth.RoleAdmin, "Caller role: admin, doctor or patient")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	return cmd
}

func mintToken(cfg auth.JWTConfig, sub, role string, ttl time.Duration) (string, error) {
	id, err := uuid.Parse(sub)
	if err != nil {
		return "", fmt.Errorf("--sub must be a uuid: %w", err)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive")
	}
	return auth.IssueToken(cfg, auth.Caller{ID: id, Role: role}, ttl)
}
