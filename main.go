package main

import "seedream-studio-server/cmd"

func main() {
	cmd.Execute()
}
