package main

import "github.com/derickschaefer/cicqte/cmd"

func main() {
	cmd.Execute()
}
