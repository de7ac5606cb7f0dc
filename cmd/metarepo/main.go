// Command metarepo is the meta-repository version control CLI.
package main

import "github.com/mjpitz/metarepo/commands"

func main() {
	commands.Execute()
}
