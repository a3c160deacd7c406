package main

import "github.com/agentic-research/kgbuild/cmd"

func main() {
	cmd.Execute()
}
