package main

import "github.com/Ruolynn/luckypocket-interface-sub000/internal/cli"

func main() {
	cli.Execute()
}
