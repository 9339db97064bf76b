package main

import (
	"context"
	"os"

	"github.com/smazurov/camrelay/cmd"
)

func main() {
	os.Exit(cmd.Execute(context.Background(), os.Args[1:]))
}
