package main

import "github.com/arcward/clanbot/cmd"

func main() {
	cmd.Execute()
}
