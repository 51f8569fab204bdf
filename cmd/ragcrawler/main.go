// The main package for the ragcrawler executable.
package main

import "github.com/JakeFAU/rag-crawler/cmd"

func main() {
	cmd.Execute()
}
