package main

import "mortgage-rate-alerts/internal/cli"

func main() {
	cli.Execute()
}
