// Command improvctl inspects game-state classification offline.
package main

import "github.com/MrWong99/improvbattle/internal/cli"

func main() {
	cli.Execute()
}
