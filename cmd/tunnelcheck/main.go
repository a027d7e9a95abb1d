// Command tunnelcheck runs echo servers and FTP/FTPS structure snapshots for
// testing tunnels.
package main

import (
	"os"

	"github.com/gonzalop/tunnelcheck/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:], os.Stdout, os.Stderr))
}
