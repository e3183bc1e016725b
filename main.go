package main

import "github.com/drgolem/audiosched/cmd"

func main() {
	cmd.Execute()
}
