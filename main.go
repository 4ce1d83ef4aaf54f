package main

import "github.com/simsarhq/simsar/cmd"

func main() {
	cmd.Execute()
}
