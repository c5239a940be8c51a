// The main package for the keywordintel executable.
package main

import "github.com/dvernon0786/Infin8Content-sub000/cmd"

func main() {
	cmd.Execute()
}
