package main

import "github.com/apingali/akagraph/cmd/akagraph/cmd"

func main() {
	cmd.Execute()
}
