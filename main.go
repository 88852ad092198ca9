package main

import "github.com/fernicar/gemini-cli/cmd"

func main() {
	cmd.Execute()
}
