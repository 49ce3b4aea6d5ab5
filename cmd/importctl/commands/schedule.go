package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"catalog-import-service/internal/config"
	"catalog-import-service/internal/service"
)

func newScheduleCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Submit jobs on the cron schedules of the importer catalog until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			path := a.cfg.ScheduleFile
			if cmd.Flags().Changed(flagImporters) {
				path = a.importersPath
			}
			specs, err := config.LoadImporters(path)
			if err != nil {
				return err
			}

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

			sched := service.NewScheduler(st.jobService(queue), a.log)
			for _, spec := range specs {
				if !spec.Active {
					continue
				}
				for _, s := range spec.Schedules() {
					if _, err := sched.Add(s); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s %q\n", s.Importer, s.Type, s.Spec)
				}
			}
			if sched.Len() == 0 {
				return errors.New("no active importer has a schedule")
			}

			sched.Start()
			<-ctx.Done()

			stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			sched.Stop(stopCtx)
			return nil
		},
	}
}
