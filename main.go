// Command sitecrawler crawls every page of a single site.
package main

import (
	"os"

	"github.com/JakeFAU/sitecrawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
