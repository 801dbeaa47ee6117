package main

import (
	"flag"
	"log"

	"github.com/Zereker/ideahub/internal/server"
)

var (
	configFile = flag.String("config", "configs/config.toml", "Path to config file")
)

func main() {
	flag.Parse()

	conf, err := server.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	srv, err := server.NewServer(conf)
	if err != nil {
		log.Fatalf("failed to create server: %v", err)
	}

	runErr := srv.Start()
	_ = srv.Shutdown()
	if runErr != nil {
		log.Fatalf("failed to run server: %v", runErr)
	}
}
