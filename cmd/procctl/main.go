package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/iago/outreach-dashboard-back/internal/config"
	"github.com/iago/outreach-dashboard-back/internal/domain"
	"github.com/iago/outreach-dashboard-back/internal/lifecycle"
	"github.com/iago/outreach-dashboard-back/internal/repository"
)

var errMemoryBackend = errors.New("no persistent backend configured: set DATABASE_URL or FIRESTORE_PROJECT_ID")

type seedFlags struct {
	fixturesPath string
	concurrency  int
}

type listFlags struct {
	asJSON bool
	status string
}

func main() {
	if _, err := config.LoadDotEnv(".env.local", ".env"); err != nil {
		fmt.Fprintln(os.Stderr, "WARN:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(config.Load()).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCommand(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "procctl",
		Short:         "Operate the outreach process store",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required for migrate")
			}
			repo, err := repository.NewPostgresRepository(cmd.Context(), cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer repo.Close()
			if err := repo.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		},
	}

	var seed seedFlags
	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Load fixture processes and clients into the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fixtures, err := repository.LoadFixtures(seed.fixturesPath, time.Now().UTC())
			if err != nil {
				return err
			}
			target, closer, err := openSeeder(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closer()

			summary, err := seedAll(cmd.Context(), target, fixtures, seed.concurrency)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded processes=%d clients=%d backend=%s\n", summary.Processes, summary.Clients, cfg.RepositoryBackend())
			return nil
		},
	}
	seedCmd.Flags().StringVar(&seed.fixturesPath, "fixtures", cfg.FixturesPath, "YAML fixture file (embedded set when empty)")
	seedCmd.Flags().IntVar(&seed.concurrency, "concurrency", 4, "Parallel writes")

	var list listFlags
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List processes from the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, closer, err := openRepository(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closer()

			processes, err := repo.FetchAll(cmd.Context())
			if err != nil {
				return err
			}
			processes = filterStatus(processes, domain.ProcessStatus(list.status))
			if list.asJSON {
				encoder := json.NewEncoder(cmd.OutOrStdout())
				encoder.SetIndent("", "  ")
				return encoder.Encode(processes)
			}
			return renderTable(cmd.OutOrStdout(), processes)
		},
	}
	listCmd.Flags().BoolVar(&list.asJSON, "json", false, "Print JSON instead of a table")
	listCmd.Flags().StringVar(&list.status, "status", "", "Only show processes in this status")

	root.AddCommand(migrateCmd, seedCmd, listCmd)
	return root
}

func openRepository(ctx context.Context, cfg config.Config) (repository.ProcessRepository, func(), error) {
	switch cfg.RepositoryBackend() {
	case "postgres":
		repo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case "firestore":
		client, err := repository.NewFirestoreClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewFirestoreRepository(client, cfg.FirestoreCollection)
		return repo, func() { _ = repo.Close() }, nil
	default:
		fixtures, err := repository.LoadFixtures(cfg.FixturesPath, time.Now().UTC())
		if err != nil {
			return nil, nil, err
		}
		return repository.NewMemoryProcessRepository(fixtures, 0), func() {}, nil
	}
}

func openSeeder(ctx context.Context, cfg config.Config) (seeder, func(), error) {
	switch cfg.RepositoryBackend() {
	case "postgres":
		repo, err := repository.NewPostgresRepository(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.Migrate(ctx); err != nil {
			repo.Close()
			return nil, nil, err
		}
		return repo, repo.Close, nil
	case "firestore":
		client, err := repository.NewFirestoreClient(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewFirestoreRepository(client, cfg.FirestoreCollection)
		return repo, func() { _ = repo.Close() }, nil
	default:
		return nil, nil, errMemoryBackend
	}
}

func filterStatus(processes []*domain.Process, status domain.ProcessStatus) []*domain.Process {
	if status == "" {
		return processes
	}
	filtered := make([]*domain.Process, 0, len(processes))
	for _, process := range processes {
		if process.Status == status {
			filtered = append(filtered, process)
		}
	}
	return filtered
}

func renderTable(out io.Writer, processes []*domain.Process) error {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tSTATUS\tPAUSED\tITEMS\tPROGRESS\tTARGET\tNAME")
	for _, process := range processes {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%t\t%d\t%d%%\t%s\t%s\n",
			process.ID,
			process.Status,
			process.Paused,
			process.TotalItems,
			lifecycle.ProgressPercent(process.Progress, process.TotalItems),
			process.TargetDate.Format("2006-01-02"),
			process.Name,
		)
	}
	return writer.Flush()
}
