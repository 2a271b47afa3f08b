package main

import "github.com/vietddude/pgactor/internal/cli"

func main() {
	cli.Execute()
}
