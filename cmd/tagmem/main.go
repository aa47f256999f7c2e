package main

import "github.com/embedmem/tagmem/internal/cli"

func main() {
	cli.Execute()
}
