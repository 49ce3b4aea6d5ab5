package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/pipeline"
	"catalog-import-service/internal/service"
	"catalog-import-service/internal/worker"
)

const defaultRunDB = "catalog.db"

// inlineQueue runs a job as soon as it is enqueued.
type inlineQueue struct{ p *worker.Processor }

func (q inlineQueue) Enqueue(ctx context.Context, jobID string, _ int) error {
	return q.p.Process(ctx, jobID)
}

func newRunCmd(a *app) *cobra.Command {
	var (
		importer    string
		jobType     string
		categoryIDs []int64
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one import job in the foreground against a SQLite file",
		Long: `run upserts the importer from the YAML catalog into a SQLite file (--db,
default catalog.db), then creates one job and drives the browser until the
job is finished. The finished job is printed as JSON.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			spec, err := a.findImporter(importer)
			if err != nil {
				return err
			}
			imp := spec.Importer()
			if cmd.Flags().Changed(flagLimit) {
				if limit < 0 {
					return fmt.Errorf("--%s must not be negative", flagLimit)
				}
				imp.Settings.PerCategoryItemLimit = &limit
			}

			path := a.dbPath
			if path == "" {
				path = defaultRunDB
			}
			st, err := openSQLite(ctx, path)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.importers.Upsert(ctx, &imp); err != nil {
				return fmt.Errorf("upsert importer: %w", err)
			}

			launcher := a.newLauncher(a.cfg.Browser(), a.log)
			orch := pipeline.NewOrchestrator(st.jobs, st.catalog, launcher, a.log)
			proc := worker.NewProcessor(st.jobs, st.importers, st.catalog, orch, nil, worker.ProcessorConfig{
				ScreenshotDir: a.cfg.ScreenshotDir,
				WaitTimeout:   a.cfg.WaitTimeout,
			}, a.log)
			svc := st.jobService(inlineQueue{p: proc})

			id, err := svc.SubmitImport(ctx, service.SubmitRequest{
				Importer:    imp.Name,
				Type:        entity.JobType(jobType),
				CategoryIDs: categoryIDs,
				Priority:    1,
				RequestedBy: "importctl",
			})
			if err != nil {
				return err
			}

			// a cancelled ctx must not keep the result from being read
			job, err := svc.GetJob(context.WithoutCancel(ctx), id)
			if err != nil {
				return err
			}
			if err := printJSON(cmd, job); err != nil {
				return err
			}
			if job.Status != entity.StatusCompleted {
				return fmt.Errorf("job %s finished %s", job.ID, job.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&importer, flagImporter, "i", "", "importer name, e.g. NORIEGA")
	cmd.Flags().StringVarP(&jobType, flagType, "t", string(entity.JobTypeProducts), "job type: categories | products")
	cmd.Flags().Int64SliceVar(&categoryIDs, flagCategories, nil, "category ids for a products job (default: selected categories)")
	cmd.Flags().IntVar(&limit, flagLimit, 0, "max products per category (overrides the importer setting)")
	if err := cmd.MarkFlagRequired(flagImporter); err != nil {
		panic(fmt.Errorf("failed to mark importer flag as required for run command: %w", err))
	}
	return cmd
}
