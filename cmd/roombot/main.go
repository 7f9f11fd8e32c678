package main

import (
	"os"

	"github.com/EgorLis/roombot/cmd/roombot/commands"
)

// Заполняется при сборке через -ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)

	// ошибки уже напечатаны через printer
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
