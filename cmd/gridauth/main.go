package main

import "github.com/terraconstructs/gridauth/cmd/gridauth/cmd"

func main() {
	cmd.Execute()
}
