// The main package for the crawld executable.
package main

import "github.com/crawlkit/crawld/cmd"

func main() {
	cmd.Execute()
}
