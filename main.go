/*
Copyright © 2023 mapknit authors
*/
package main

import "github.com/mapknit/mapknit/cmd"

func main() {
	cmd.Execute()
}
