package main

import (
	"github.com/luma/arcade/cmd"
)

func main() {
	cmd.Execute()
}
