// Command qnetsim simulates entanglement distribution over a repeater chain.
package main

import "github.com/sarchlab/qnetsim/qnetsim/cmd"

func main() {
	cmd.Execute()
}
