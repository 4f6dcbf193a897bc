// Command untestables runs the star range scan orchestrator and its
// management API.
package main

import (
	"os"

	"untestables/cmd/untestables/app"
)

func main() {
	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
