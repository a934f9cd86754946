// Command bdispatchd serves Lua units over the dispatch host. It is configured through BD_* environment variables,
// see package bdapp.
package main

import (
	"github.com/advdv/bdispatch/bdapp"
)

func main() {
	bdapp.NewApp[bdapp.BaseEnvironment]().Run()
}
