package main

import "github.com/noteforge/noteforge/cmd"

func main() {
	cmd.Execute()
}
