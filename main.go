package main

import "github.com/ValentinKolb/dGrid/cmd"

func main() {
	cmd.Execute()
}
