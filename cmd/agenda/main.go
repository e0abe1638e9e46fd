// Command agenda runs the Agenda daemon and its command-line client.
package main

import "github.com/agenda-it/agenda/internal/cli"

func main() {
	cli.Execute()
}
