package cmd

import (
	"io"

	"github.com/jaffee/commandeer/cobrafy"
	"github.com/pilosa/mds/pipeline"
	"github.com/spf13/cobra"
)

func NewRunCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	com, err := cobrafy.Command(pipeline.NewMain())
	if err != nil {
		panic(err)
	}
	com.Use = "run"
	com.Short = "Run the full ELT pipeline: extract -> stage -> marts."
	return com
}

func init() {
	subcommandFns["run"] = NewRunCommand
}
