package main

import (
	"fmt"
	"os"

	"github.com/odpf/datajobs/cmd"
)

func main() {
	command := cmd.New()
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "unable to complete request successfully")
		os.Exit(1)
	}
}
