package cliContext

type Context struct {
	Debug     bool    `env:"VERBATIM_DEBUG,DEBUG" default:"false" hidden:"" help:"Shortcut for --log-level=debug"`
	LogLevel  *string `env:"VERBATIM_LOG_LEVEL" enum:"error,warn,info,debug,trace" help:"Set the level of logs to output [${enum}]"`
	LogFormat *string `env:"VERBATIM_LOG_FORMAT" default:"text" enum:"text,json" help:"Set the format of logs to output [${enum}]"`
}
