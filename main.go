package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ShoYamanishi/vurecorder/cmd"
	"github.com/ShoYamanishi/vurecorder/internal/buildinfo"
	"github.com/ShoYamanishi/vurecorder/internal/conf"
	"github.com/ShoYamanishi/vurecorder/internal/telemetry"
)

// Set at build time with -ldflags "-X main.version=... -X main.buildDate=...".
var (
	version   = ""
	buildDate = ""
)

func main() {
	ctx := conf.NewContext(buildinfo.NewContext(version, buildDate))

	rootCmd := cmd.RootCommand(ctx)
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		telemetry.Close(0)
		os.Exit(1)
	}
}
