package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/pilosa/mds/marts"
	"github.com/spf13/cobra"
)

func NewMartsCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	com, err := cobrafy.Command(marts.NewMain())
	if err != nil {
		panic(err)
	}
	com.Use = "marts"
	com.Short = "Aggregate the staged table into mart Parquet files."
	return com
}

func init() {
	subcommandFns["marts"] = NewMartsCommand
}
