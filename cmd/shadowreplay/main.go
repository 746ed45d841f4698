package main

import "github.com/bryanchriswhite/ShadowReplay/cmd/shadowreplay/commands"

func main() {
	commands.Execute()
}
