package main

import "github.com/sheikh-saqib/allowance-ledger/cmd/allowancectl/commands"

func main() {
	commands.Execute()
}
