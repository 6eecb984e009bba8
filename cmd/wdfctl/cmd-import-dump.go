package main

import (
	"context"
	"math"

	"github.com/wdatafacility/wdf/indexer"
	"github.com/wdatafacility/wdf/tasks"
)

type cmdImportDump struct {
	ChunkSize  int          `long:"chunk_size" description:"Override both chunk sizes for this run"`
	GroupSize  int          `long:"group_size" default:"5000" description:"Items per import window"`
	Background string       `long:"background" choice:"yes" choice:"no" default:"yes" description:"Run through the task runner with retries (yes) or inline (no)"`
	Chunks     ChunkConfig  `group:"Pipeline"`
	Store      StoreConfig  `group:"Store" namespace:"store" env-namespace:"STORE"`
	Source     SourceConfig `group:"Source" namespace:"source"`
	Log        LogConfig    `group:"Logging" namespace:"log" env-namespace:"LOG"`

	Args struct {
		JobID string `positional-arg-name:"job-id" required:"true" description:"Crawler job to import"`
	} `positional-args:"yes"`
}

func (cmd cmdImportDump) Execute(_ []string) error {
	initLog(cmd.Log)
	var ctx = context.Background()

	var get, save = cmd.Chunks.resolve(cmd.ChunkSize)
	var idxCfg = indexer.Config{
		Crawler:       cmd.Source.Crawler,
		GetChunkSize:  get,
		SaveChunkSize: save,
	}
	var factory = makeFactory(cmd.Store, cmd.Source, idxCfg)

	if cmd.Background == "yes" {
		var runner = &tasks.Runner{NewIndexer: factory, GroupSize: cmd.GroupSize}
		if err := runner.ImportJob(ctx, cmd.Args.JobID); err != nil {
			return err
		}
		successf("Job #%s imported", cmd.Args.JobID)
		return nil
	}

	// Inline: the whole graph runs sequentially on one store handle, with no
	// retries and no window fan-out.
	idx, cleanup, err := factory(ctx, cmd.Args.JobID)
	if err != nil {
		return err
	}
	defer cleanup()

	if err = idx.PrepareDump(ctx, 0, math.MaxInt); err != nil {
		return err
	}
	if err = idx.ImportDump(ctx, 0, math.MaxInt); err != nil {
		return err
	}
	if err = idx.WrapDump(ctx); err != nil {
		return err
	}
	successf("Job #%s imported", cmd.Args.JobID)
	return nil
}
