package main

import "github.com/rish2jain/consultantOS-sub009/internal/cli"

func main() {
	cli.Execute()
}
