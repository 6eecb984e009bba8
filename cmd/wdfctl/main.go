package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"
)

func main() {
	var parser = flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	addCmd(parser, "migrate", "Apply the database schema", `
Create the data facility tables and indexes in the configured store.
`, &cmdMigrate{})

	addCmd(parser, "prepare-dump", "Prepare a job for importing", `
Resolve every dictionary entry and SKU of a crawler job without writing
versions, leaving the dump PREPARED for import.
`, &cmdPrepareDump{})

	addCmd(parser, "import-dump", "Add a job to the data facility", `
Run the full import graph for one crawler job: prepare, a fan-out of
bounded import windows, and the terminal wrap check.
`, &cmdImportDump{})

	addCmd(parser, "import-all", "Import every finished job", `
List finished crawler jobs from the source, optionally filtered by tag,
and run the import graph for each.
`, &cmdImportAll{})

	addCmd(parser, "check-unfinished", "Reconcile unfinished dumps", `
List dumps that never reached PROCESSED. Dumps whose version count matches
the crawl are promoted; stale ones are pruned so the job can be re-imported.
`, &cmdCheckUnfinished{})

	addCmd(parser, "clear-unfinished", "Prune unfinished dumps", `
Prune every dump that never reached PROCESSED, or the dumps of one job.
`, &cmdClearUnfinished{})

	addCmd(parser, "merge-duplicates", "Merge SKU duplicates", `
Scan SKU articles page by page and merge the SKUs sharing an article onto
the oldest one.
`, &cmdMergeDuplicates{})

	if _, err := parser.Parse(); err != nil {
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp {
			fmt.Println(flagErr.Message)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addCmd(to interface {
	AddCommand(string, string, string, interface{}) (*flags.Command, error)
}, a, b, c string, iface interface{}) *flags.Command {
	var cmd, err = to.AddCommand(a, b, c, iface)
	if err != nil {
		panic(fmt.Sprintf("failed to add flags parser command: %v", err))
	}
	return cmd
}
