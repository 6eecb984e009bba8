package main

import (
	"context"

	"github.com/wdatafacility/wdf/dumps"
)

type cmdMergeDuplicates struct {
	ChunkSize   int         `long:"chunk_size" default:"1000" description:"Articles scanned per page"`
	ProcessAll  string      `long:"process_all" choice:"yes" choice:"no" default:"no" description:"Scan every article instead of only duplicated ones"`
	OffsetStart int         `long:"offset_start" default:"0" description:"Scan offset to resume from"`
	Store       StoreConfig `group:"Store" namespace:"store" env-namespace:"STORE"`
	Log         LogConfig   `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

func (cmd cmdMergeDuplicates) Execute(_ []string) error {
	initLog(cmd.Log)
	var ctx = context.Background()

	st, err := cmd.Store.open(ctx)
	if err != nil {
		return err
	}
	defer st.Close()
	var repo = dumps.NewRepository(st)

	var offset = cmd.OffsetStart
	var limit = cmd.ChunkSize
	successf("Start merging duplicates with chunk size %d", limit)

	for {
		articles, err := repo.DuplicateArticles(ctx, limit, offset, cmd.ProcessAll == "yes")
		if err != nil {
			return err
		}
		if len(articles) == 0 {
			successf("No more duplicates, stopping")
			return nil
		}

		for _, article := range articles {
			if err = repo.MergeDuplicates(ctx, article); err != nil {
				return err
			}
		}
		successf("%d articles merged (LIMIT %d OFFSET %d)", len(articles), limit, offset)

		offset += limit
	}
}
