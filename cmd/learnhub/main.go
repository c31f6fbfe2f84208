package main

import (
	"fmt"
	"log"
	"os"

	"learnhub/cmd/internal/app"

	"github.com/common-nighthawk/go-figure"
)

const appname = "learnhub"

func main() {
	args := os.Args[1:]

	if len(args) > 0 && args[0] == "migrate" {
		direction := "up"
		if len(args) > 1 {
			direction = args[1]
		}
		if err := app.Migrate(direction); err != nil {
			log.Fatal(err)
		}
		return
	}

	displayAppname(appname)
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}

func displayAppname(name string) {
	figure.NewFigure(name, "cybermedium", true).Print()
	fmt.Println()
}
