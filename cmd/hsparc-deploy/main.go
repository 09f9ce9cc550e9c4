package main

import (
	"github.com/hsparc-project/hsparc-deploy/cmd/hsparc-deploy/cmd"
)

func main() {
	cmd.Execute()
}
