package main

import "github.com/tobgro/streamstore/cmd"

func main() {
	cmd.Execute()
}
