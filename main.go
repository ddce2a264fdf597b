package main

import "github.com/Tiliavir/nark/cmd"

func main() {
	cmd.Execute()
}
