package cli

import (
	cliContext "github.com/verbatimhq/verbatim/core/cli/context"
)

var CLI struct {
	cliContext.Context `embed:""`

	Run        RunCMD        `cmd:"" help:"Run the Verbatim transcription server, this is the default command if no other command is specified. Run 'verbatim run --help' for more information" default:"withargs"`
	Transcribe TranscribeCMD `cmd:"" help:"Transcribe a single audio file locally and print the segments"`
}
