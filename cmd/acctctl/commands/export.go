package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/Sternrassler/eaccounting-client/pkg/client"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

// exportResult is the outcome of one exported collection.
type exportResult struct {
	Resource string        `json:"resource"`
	File     string        `json:"file"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// NewExportCommand creates the export command.
func NewExportCommand() *cobra.Command {
	var (
		dir         string
		concurrency int
		pageSize    int
		failFast    bool
	)

	cmd := &cobra.Command{
		Use:   "export [RESOURCE...]",
		Short: "Export collections to JSON-lines files",
		Long: `Stream one or more collections into <dir>/<resource>.jsonl. Collections
are read concurrently and share one rate limiter. Without arguments every
known collection is exported.`,
		Example: `  acctctl export customers vouchers --dir ./backup
  acctctl export --concurrency 2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			names := args
			if len(names) == 0 {
				names = kindNames()
			}
			kinds := make([]resourceKind, 0, len(names))
			for _, name := range names {
				k, err := lookupKind(name)
				if err != nil {
					return err
				}
				kinds = append(kinds, k)
			}

			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create export directory: %w", err)
			}

			s, err := newSession(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			opts := client.ListOptions{PageSize: pageSize}
			results, err := exportAll(cmd.Context(), s.client, kinds, dir, opts, concurrency, failFast)

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				status := "ok"
				if r.Error != "" {
					status = r.Error
				}
				rows = append(rows, []string{r.Resource, strconv.Itoa(r.Items), r.File, r.Duration.Round(time.Millisecond).String(), status})
			}
			if rerr := render(cmd.OutOrStdout(), results, []string{"Resource", "Items", "File", "Duration", "Status"}, rows); rerr != nil {
				return rerr
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", ".", "output directory")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "collections exported at the same time")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "items per page (default from client)")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "cancel the remaining exports on the first error")

	return cmd
}

// exportAll streams every kind into its own file. Results keep the order of
// kinds. Without failFast a failed collection does not stop the others and
// the returned error reports how many failed.
func exportAll(ctx context.Context, c *client.Client, kinds []resourceKind, dir string, opts client.ListOptions, concurrency int, failFast bool) ([]exportResult, error) {
	logger := commandLogger("export")
	results := make([]exportResult, len(kinds))

	var g *errgroup.Group
	if failFast {
		g, ctx = errgroup.WithContext(ctx)
	} else {
		g = &errgroup.Group{}
	}
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}

	var mu sync.Mutex
	failed := 0

	for i, k := range kinds {
		g.Go(func() error {
			start := time.Now()
			path := filepath.Join(dir, k.name+".jsonl")
			n, err := exportFile(ctx, c, k, path, opts)

			res := exportResult{Resource: k.name, File: path, Items: n, Duration: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
				logger.Error().Err(err).Str("stream", k.name).Int("items", n).Msg("Export failed")
				mu.Lock()
				failed++
				mu.Unlock()
			} else {
				logger.Info().Str("stream", k.name).Int("items", n).Str("file", path).Msg("Export complete")
			}
			results[i] = res

			if failFast {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return results, fmt.Errorf("export: %w", err)
	}
	if failed > 0 {
		return results, fmt.Errorf("export: %d of %d collections failed", failed, len(kinds))
	}
	return results, nil
}

// exportFile writes into a temporary file and renames it on success, so a
// failed export never leaves a truncated file under the final name.
func exportFile(ctx context.Context, c *client.Client, k resourceKind, path string, opts client.ListOptions) (int, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+k.name+"-*.jsonl")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := k.export(ctx, c, opts, tmp)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close %s: %w", tmp.Name(), cerr)
	}
	if err != nil {
		return n, err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return n, fmt.Errorf("rename export file: %w", err)
	}
	return n, nil
}
