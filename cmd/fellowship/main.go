package main

import "github.com/nfrund/fellowship/cmd/fellowship/cmd"

func main() {
	cmd.Execute()
}
