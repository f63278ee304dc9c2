package main

import (
	"log"

	"signdesk/config"
	"signdesk/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	app := &server.App{}
	if err := app.Initialize(cfg); err != nil {
		log.Fatal(err)
	}
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
