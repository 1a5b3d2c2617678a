package main

import (
	"musicsquare/cmd"
)

func main() {
	cmd.Execute()
}
