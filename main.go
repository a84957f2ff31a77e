package main

import "github.com/Norgate-AV/jsbundle/cmd"

func main() {
	cmd.Execute()
}
