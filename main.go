package main

import "github.com/chatmirror/chatmirror/cmd"

func main() {
	cmd.Execute()
}
