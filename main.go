package main

import (
	"os"

	"github.com/ryuki-imachi/prezentation-feedback-agent/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
