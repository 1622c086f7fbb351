// Command masterserver runs the peer-discovery, lobby, gameserver, and P2P
// relay coordination service over a single UDP socket.
package main

import (
	"fmt"
	"os"

	"github.com/Rustbeard86/GoldbergMasterServer-sub000/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
