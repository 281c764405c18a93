package main

import "github.com/paneldesk/assistant-bridge/cmd"

func main() {
	cmd.Execute()
}
