package main

import (
	"log"

	"shepherd/config"
	"shepherd/server"
)

func main() {
	cfg := config.MustLoad()

	app := &server.App{}
	if err := app.Initialize(cfg); err != nil {
		log.Fatalf("init: %v", err)
	}
	if err := app.Run(); err != nil {
		log.Fatalf("run: %v", err)
	}
}
