package main

import (
	_ "go.uber.org/automaxprocs"

	"github.com/autopeer-io/groundlink/cmd/cpeer-groundlink/app"
)

func main() {
	app.NewApp().Run()
}
