package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Tyrowin/ridechat/internal/server"
	"github.com/Tyrowin/ridechat/internal/store"
)

func main() {
	log.Println("Starting ride chat server...")

	server.SetConfig(server.NewConfigFromEnv())
	config := server.CurrentConfig()

	chats, err := store.Open(config.DatabasePath)
	if err != nil {
		log.Fatalf("Error opening chat store: %v", err)
	}
	defer func() {
		if err := chats.Close(); err != nil {
			log.Printf("Error closing chat store: %v", err)
		}
	}()

	hub := server.NewHub()
	server.StartHub(hub)

	httpServer := server.CreateServer(config.Port, server.SetupRoutes(hub, chats))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	case <-ctx.Done():
		log.Println("Shutdown signal received")
	}

	if err := server.ShutdownServer(httpServer, config.ShutdownTimeout); err != nil {
		log.Printf("Error during HTTP shutdown: %v", err)
	}
	if err := hub.Shutdown(config.ShutdownTimeout); err != nil {
		log.Printf("Error during hub shutdown: %v", err)
	}
}
