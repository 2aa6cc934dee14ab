// gorrcctl is the admin CLI of the gorrc daemon.
package main

import "github.com/dantte-lp/gorrc/cmd/gorrcctl/commands"

func main() {
	commands.Execute()
}
