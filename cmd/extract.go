package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/pilosa/mds/extract"
	"github.com/spf13/cobra"
)

func NewExtractCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	com, err := cobrafy.Command(extract.NewMain())
	if err != nil {
		panic(err)
	}
	com.Use = "extract"
	com.Short = "Fetch repos updated since the stored cursor into the raw store."
	return com
}

func init() {
	subcommandFns["extract"] = NewExtractCommand
}
