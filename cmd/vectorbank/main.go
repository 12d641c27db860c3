package main

import "github.com/MereWhiplash/vectorbank/internal/cli"

func main() {
	cli.Execute()
}
