package main

import "scauthcore/cmd"

func main() {
	cmd.Execute()
}
