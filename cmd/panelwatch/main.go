package main

import (
	"context"

	"panelwatch/cmd/panelwatch/commands"
)

func main() {
	commands.ExecuteContext(context.Background())
}
