package main

import (
	"flow-agent/internal/bootstrap"
)

func main() {
	bootstrap.NewApp().Run()
}
