// pageimages - write the images of a PDF page to files
package main

import (
	"os"

	"github.com/novvoo/go-pageimages/cmd/pageimages/commands"
)

func main() {
	os.Exit(commands.Execute())
}
