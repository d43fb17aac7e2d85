package main

import "github.com/polyvox/notify-engine/cmd"

func main() {
	cmd.Execute()
}
