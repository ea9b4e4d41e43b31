package main

import "github.com/bookworm-labs/storyatlas/cmd"

func main() {
	cmd.Execute()
}
