package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/pilosa/mds/staging"
	"github.com/spf13/cobra"
)

func NewStageCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	com, err := cobrafy.Command(staging.NewMain())
	if err != nil {
		panic(err)
	}
	com.Use = "stage"
	com.Short = "Clean the raw store into data/staging/repos.parquet with DuckDB."
	return com
}

func init() {
	subcommandFns["stage"] = NewStageCommand
}
