package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"depotdl/internal/cdn"
	"depotdl/internal/engine"
	"depotdl/internal/ledger"
	"depotdl/internal/log"
	"depotdl/internal/util"
)

// runDownload builds the CDN pool and engine shared by both subcommands and
// downloads every job's manifest into saveRoot, one depot at a time. Each
// depot gets its own resume ledger, "<depot-id>.json" in the working
// directory, loaded fresh per job.
func runDownload(ctx context.Context, jobs []manifestJob, saveRoot string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return err
	}

	var login cdn.Login
	if flagLoginAnonymous {
		login = unimplementedLogin{}
	}

	cfg := engine.Config{ThreadNum: flagThreadNum, RetryNum: flagRetryNum}

	for _, job := range jobs {
		ledgerPath := filepath.Join(cwd, fmt.Sprintf("%d.json", job.Manifest.Depot.ID))
		led, err := ledger.Load(ledgerPath)
		if err != nil {
			return err
		}

		reporter := newReporter(flagQuiet, fmt.Sprintf("depot %d", job.Manifest.Depot.ID))

		pool := cdn.NewPool(noDirectory{}, login, job.Manifest.Depot.ID, flagLoginAnonymous)
		if len(flagServers) > 0 {
			if err := pool.Add(ctx, flagServers); err != nil {
				return fmt.Errorf("depot %d: %w", job.Manifest.Depot.ID, err)
			}
		}

		eng := engine.New(pool, led, cfg, reporter)

		log.Info("starting depot download",
			log.Uint32("depot_id", job.Manifest.Depot.ID),
			log.String("manifest", job.ManifestPath),
			log.String("save_path", saveRoot),
			log.String("size", util.Sizeify(job.Manifest.Depot.TotalSize)),
		)

		if err := eng.Run(ctx, job.Manifest, saveRoot); err != nil {
			reporter.Finish()
			return fmt.Errorf("depot %d: %w", job.Manifest.Depot.ID, err)
		}
		reporter.Finish()
	}

	return nil
}
