// Command cell0 is the Cell 0 OS gateway's entry point.
package main

import "github.com/cell0os/core/cmd"

func main() {
	cmd.Execute()
}
