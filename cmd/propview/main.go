package main

import "github.com/bryanchriswhite/propview/cmd/propview/commands"

func main() {
	commands.Execute()
}
