package main

import "github.com/kozaktomas/album-curator/cmd"

func main() {
	cmd.Execute()
}
