package main

import "github.com/linguaflow/followup-engine/cmd"

func main() {
	cmd.Execute()
}
