// Command tileproxy is the map-tile serving and caching proxy's
// entrypoint: it delegates straight to internal/cmd's cobra root,
// which carries the serve/export/seed subcommands.
package main

import "github.com/tileproxy/tileproxy/internal/cmd"

func main() {
	cmd.Execute()
}
