package main

import (
	"github.com/carecoord/welfare-dispatch/dispatch/dispatchcli"
)

func main() {
	dispatchcli.Run()
}
