package main

import "outreach/pipeline/cmd"

func main() {
	cmd.Execute()
}
