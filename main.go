package main

import "github.com/agentic-research/pillarctl/cmd"

func main() {
	cmd.Execute()
}
