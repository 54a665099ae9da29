package main

import "github.com/weafon/vmfs-tool/cmd"

func main() {
	cmd.Execute()
}
