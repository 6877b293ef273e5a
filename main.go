package main

import "github.com/jsteenb2/voltdb/cmd"

func main() {
	cmd.Execute()
}
