package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"catalog-import-service/internal/entity"
	"catalog-import-service/internal/service"
)

func newSubmitCmd(a *app) *cobra.Command {
	var (
		importer    string
		jobType     string
		categoryIDs []int64
		priority    int
	)
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Create an import job and put it on the worker queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			queue, closeQueue, err := a.openQueue(ctx)
			if err != nil {
				return err
			}
			defer closeQueue()

			id, err := st.jobService(queue).SubmitImport(ctx, service.SubmitRequest{
				Importer:    importer,
				Type:        entity.JobType(jobType),
				CategoryIDs: categoryIDs,
				Priority:    priority,
				RequestedBy: "importctl",
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]string{"id": id.String()})
		},
	}

	cmd.Flags().StringVarP(&importer, flagImporter, "i", "", "importer name, e.g. NORIEGA")
	cmd.Flags().StringVarP(&jobType, flagType, "t", string(entity.JobTypeProducts), "job type: categories | products")
	cmd.Flags().Int64SliceVar(&categoryIDs, flagCategories, nil, "category ids for a products job (default: selected categories)")
	cmd.Flags().IntVarP(&priority, flagPriority, "p", 1, "0=low, 1=normal, 2=high")
	if err := cmd.MarkFlagRequired(flagImporter); err != nil {
		panic(fmt.Errorf("failed to mark importer flag as required for submit command: %w", err))
	}
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := st.jobService(nil).GetJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			job, err := st.jobService(nil).CancelJob(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}
}

func newLogsCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print the log entries of a job, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			entries, err := st.jobService(nil).JobLogs(cmd.Context(), id, limit)
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-7s %s\n", e.CreatedAt.Local().Format(time.DateTime), e.Level, e.Message)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, flagLimit, "l", 200, "max entries")
	return cmd
}
