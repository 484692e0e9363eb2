package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"isoforge.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Build struct {
		DryRun      bool   `help:"Log external commands instead of executing them"`
		SkipCleanup bool   `help:"Leave workspace and mounts in place after the run"`
		Mode        string `short:"m" help:"Failure handling mode (graceful|strict|permissive)"`
	} `cmd:"" help:"Build the ISO through the configured phase sequence"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	Report struct {
		RunID  string `arg:"" optional:"" help:"Run to report on (default: most recent)"`
		Format string `short:"f" help:"Report format (text|markdown|html)" default:"text"`
	} `cmd:"" help:"Re-render the build report for a past run"`

	Version struct{} `cmd:"" help:"Print version information"`
}

func main() {
	ctx := kong.Parse(&CLI)

	var code int
	switch ctx.Command() {
	case "build":
		code = runBuild()
	case "init":
		code = runInit()
	case "report", "report <run-id>":
		code = runReport()
	case "version":
		code = runVersion()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", ctx.Command())
		code = 2
	}
	os.Exit(code)
}
