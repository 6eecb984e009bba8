package main

import (
	"context"
	"math"

	"github.com/wdatafacility/wdf/indexer"
	"github.com/wdatafacility/wdf/tasks"
)

type cmdPrepareDump struct {
	ChunkSize  int          `long:"chunk_size" description:"Override both chunk sizes for this run"`
	Background string       `long:"background" choice:"yes" choice:"no" default:"yes" description:"Run through the task runner with retries (yes) or inline (no)"`
	Chunks     ChunkConfig  `group:"Pipeline"`
	Store      StoreConfig  `group:"Store" namespace:"store" env-namespace:"STORE"`
	Source     SourceConfig `group:"Source" namespace:"source"`
	Log        LogConfig    `group:"Logging" namespace:"log" env-namespace:"LOG"`

	Args struct {
		JobID string `positional-arg-name:"job-id" required:"true" description:"Crawler job to prepare"`
	} `positional-args:"yes"`
}

func (cmd cmdPrepareDump) Execute(_ []string) error {
	initLog(cmd.Log)
	var ctx = context.Background()

	var get, save = cmd.Chunks.resolve(cmd.ChunkSize)
	var idxCfg = indexer.Config{
		Crawler:       cmd.Source.Crawler,
		GetChunkSize:  get,
		SaveChunkSize: save,
	}

	if cmd.Background == "yes" {
		var runner = &tasks.Runner{NewIndexer: makeFactory(cmd.Store, cmd.Source, idxCfg)}
		if err := runner.PrepareJob(ctx, cmd.Args.JobID); err != nil {
			return err
		}
		successf("Job #%s prepared", cmd.Args.JobID)
		return nil
	}

	idx, cleanup, err := makeFactory(cmd.Store, cmd.Source, idxCfg)(ctx, cmd.Args.JobID)
	if err != nil {
		return err
	}
	defer cleanup()

	if err = idx.PrepareDump(ctx, 0, math.MaxInt); err != nil {
		return err
	}
	successf("Job #%s prepared", cmd.Args.JobID)
	return nil
}
