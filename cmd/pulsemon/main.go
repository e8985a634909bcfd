// pulsemon watches coding assistant session logs and streams signed,
// privacy-filtered activity metadata to a pulsehub.
package main

import "github.com/pulsewatch/pulsewatch/internal/cli"

func main() {
	cli.Execute()
}
