// Command markpad serves the Markdown editor with live preview and maintains its
// article store.
package main

import (
	"fmt"
	"os"

	"github.com/livetemplate/markpad/cmd/markpad/commands"
)

func main() {
	if err := commands.NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
