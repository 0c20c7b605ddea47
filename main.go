// The main package for the eventpipe executable.
package main

import (
	"github.com/JakeFAU/events-linkhealth/cmd"
)

func main() {
	cmd.Execute()
}
