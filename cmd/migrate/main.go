package main

import "github.com/aspenas/candlefish-website-sub012/internal/cli"

func main() {
	cli.Execute()
}
