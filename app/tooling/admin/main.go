// This program performs administrative tasks for the simulator: key
// generation, genesis seeding and archive inspection.
package main

import (
	"github.com/blocksim/blocksim/app/tooling/admin/cmd"
)

func main() {
	cmd.Execute()
}
