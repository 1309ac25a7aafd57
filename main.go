// relay-worker - a child process that relays stdin and obeys control
// messages from its parent.
package main

import (
	"os"

	"ipcrelay/cmd"
)

func main() {
	os.Exit(cmd.Main(os.Args[1:]))
}
