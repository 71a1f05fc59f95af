package main

import (
	"fmt"
	"os"

	"drink-check-bot/cmd"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if len(os.Args) != 3 {
			fmt.Fprintln(os.Stderr, "usage: drinkcheck token <subject>")
			os.Exit(2)
		}
		cmd.MintToken(os.Args[2])
		return
	}
	cmd.Run()
}
