package main

import "github.com/sherlockcv/shbuild/cmd"

func main() {
	cmd.Execute()
}
