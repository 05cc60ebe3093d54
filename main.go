package main

import (
	"os"

	"github.com/modelguard/modelguard/cmd"
)

func main() {
	cmd.Execute(os.Args[1:])
}
