package main

import "github.com/hxqlab/agentrelay/cmd"

func main() {
	cmd.Execute()
}
