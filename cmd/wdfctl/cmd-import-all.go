package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/wdatafacility/wdf/indexer"
	"github.com/wdatafacility/wdf/tasks"
)

type cmdImportAll struct {
	Tags      []string     `long:"tags" description:"Only jobs carrying this tag (repeatable)"`
	State     string       `long:"state" default:"finished" description:"Only jobs in this state"`
	ChunkSize int          `long:"chunk_size" description:"Override both chunk sizes for this run"`
	GroupSize int          `long:"group_size" default:"5000" description:"Items per import window"`
	Chunks    ChunkConfig  `group:"Pipeline"`
	Store     StoreConfig  `group:"Store" namespace:"store" env-namespace:"STORE"`
	Source    SourceConfig `group:"Source" namespace:"source"`
	Log       LogConfig    `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (cmd cmdImportAll) Execute(_ []string) error {
	initLog(cmd.Log)
	var ctx = context.Background()

	jobs, err := cmd.Source.client().JobKeys(ctx, cmd.Tags, cmd.State)
	if err != nil {
		return err
	}
	successf("%d jobs found for import", len(jobs))

	var get, save = cmd.Chunks.resolve(cmd.ChunkSize)
	var runner = &tasks.Runner{
		NewIndexer: makeFactory(cmd.Store, cmd.Source, indexer.Config{
			Crawler:       cmd.Source.Crawler,
			GetChunkSize:  get,
			SaveChunkSize: save,
		}),
		GroupSize: cmd.GroupSize,
	}

	for _, job := range jobs {
		if err = runner.ImportJob(ctx, job); err != nil {
			// One broken job must not block the rest of the backlog.
			log.WithField("job", job).WithError(err).Error("job import failed, continuing")
			continue
		}
		successf("Job #%s imported", job)
	}
	return nil
}
