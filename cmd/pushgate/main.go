package main

import (
	"os"

	"github.com/crensch/pushgate/internal/app"
)

func main() {
	os.Exit(app.Main(os.Args))
}
