package main

import "github.com/stevemurr/json-db-serve/cmd"

func main() {
	cmd.Execute()
}
