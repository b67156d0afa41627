// Command depotdl downloads a Steam depot's files directly from the CDN.
package main

import (
	"os"

	"depotdl/internal/cli"
)

// version is the application version reported by --version.
const version = "v0.1.0"

func main() {
	os.Exit(cli.Execute(version))
}
