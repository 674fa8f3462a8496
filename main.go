package main

import "github.com/nextlevelbuilder/replygate/cmd"

func main() {
	cmd.Execute()
}
