package main

import (
	"context"

	"github.com/wdatafacility/wdf/dumps"
)

type cmdClearUnfinished struct {
	JobID string      `long:"job_id" description:"Only clear the dumps of this job"`
	Store StoreConfig `group:"Store" namespace:"store" env-namespace:"STORE"`
	Log   LogConfig   `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (cmd cmdClearUnfinished) Execute(_ []string) error {
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

	for _, u := range unfinished {
		var crawled = 0
		if u.Dump.ItemsCrawled != nil {
			crawled = *u.Dump.ItemsCrawled
		}
		successf("Dump %s unfilled: %d versions instead of %d (%d diff), deleting",
			u.Dump.Job, u.Versions, crawled, u.Diff)

		if err = repo.Prune(ctx, u.Dump); err != nil {
			return err
		}
	}
	return nil
}
