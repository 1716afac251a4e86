// The main package for the newspipe executable.
package main

import (
	"github.com/amasri/newspipe/cmd"
)

func main() {
	cmd.Execute()
}
