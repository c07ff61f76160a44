package main

import (
	"github.com/app-sre/external-resources-manager/cmd/manager/cmd"
)

func main() {
	cmd.Execute()
}
