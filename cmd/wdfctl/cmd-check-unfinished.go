package main

import (
	"context"
	"time"

	"github.com/wdatafacility/wdf/dumps"
)

type cmdCheckUnfinished struct {
	JobID     string      `long:"job_id" description:"Only check the dumps of this job"`
	OlderThan int         `long:"older_than" default:"1440" description:"Minutes a stale dump must age before it is pruned"`
	Store     StoreConfig `group:"Store" namespace:"store" env-namespace:"STORE"`
	Log       LogConfig   `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (cmd cmdCheckUnfinished) Execute(_ []string) error {
	initLog(cmd.Log)
	var ctx = context.Background()

	st, err := cmd.Store.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	var repo = dumps.NewRepository(st)

	unfinished, err := repo.ListUnfinished(ctx, cmd.JobID)
	if err != nil {
		return err
	}
	successf("%d unfinished dumps found", len(unfinished))

	for _, u := range unfinished {
		successf("Dump %s has %d diff", u.Dump.Job, u.Diff)

		if u.Diff == 0 && u.Dump.ItemsCrawled != nil {
			// Every version landed; only the terminal state write was lost.
			if err = repo.SetState(ctx, u.Dump, dumps.StateProcessed); err != nil {
				return err
			}
			successf("Dump %s set as processed", u.Dump.Job)
			continue
		}

		if time.Since(u.Dump.CreatedAt) > time.Duration(cmd.OlderThan)*time.Minute {
			if err = repo.Prune(ctx, u.Dump); err != nil {
				return err
			}
			successf("Dump %s pruned", u.Dump.Job)
		} else {
			successf("Dump %s is fresh, skipping", u.Dump.Job)
		}
	}
	return nil
}
