package main

import (
	"github.com/hsparc-project/hsparc-deploy/cmd/hsparc-mount/cmd"
)

func main() {
	cmd.Execute()
}
