package main

import "outreach-relay-go/internal/cli"

func main() {
	cli.Execute()
}
