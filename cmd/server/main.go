package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shoaibkh4n/google-agentic/internal/api"
	"github.com/shoaibkh4n/google-agentic/internal/auth"
	"github.com/shoaibkh4n/google-agentic/internal/capability"
	"github.com/shoaibkh4n/google-agentic/internal/config"
	"github.com/shoaibkh4n/google-agentic/internal/core"
	"github.com/shoaibkh4n/google-agentic/internal/store"
)

func main() {
	// Load configuration
	config.LoadConfig()

	// Setup logging
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if config.AppConfig.LogLevel == "DEBUG" {
		log.Println("Service starting in DEBUG mode")
	}

	// Initialize database store
	dbStore, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer dbStore.Close()

	// Initialize LLM service
	llmService := core.NewLLMService()
	defer llmService.Close()

	// Semantic recall over previously surfaced workspace items
	recall := core.NewRecall(dbStore, llmService)

	// Google authorization gate and per-user capability clients
	gate := auth.NewGoogleGate(dbStore)
	clients := capability.NewGoogleClientFactory(gate, recall)

	dispatcher := core.NewCapabilityDispatcher(
		gate,
		clients,
		config.AppConfig.DispatchConcurrency,
		time.Duration(config.AppConfig.CapabilityTimeoutMS)*time.Millisecond,
		config.AppConfig.MaxRetryAttempts,
	)
	resolver := core.NewLLMResolver(llmService, time.Duration(config.AppConfig.CapabilityTimeoutMS)*time.Millisecond)

	orchestrator := core.NewOrchestrator(
		gate,
		resolver,
		dispatcher,
		llmService,
		dbStore,
		time.Duration(config.AppConfig.RequestTimeoutMS)*time.Millisecond,
	)

	// Initialize API Handler and Router
	apiHandler := api.NewAPIHandler(orchestrator, dbStore, gate)
	router := api.NewRouter(apiHandler)

	// Start HTTP server
	serverAddr := fmt.Sprintf(":%s", config.AppConfig.HTTPPort)

	srv := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // A query fans out to several workspace APIs
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		log.Printf("Starting server on %s. Press Ctrl+C to quit.", serverAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Could not listen on %s: %v\n", serverAddr, err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give active connections time to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exiting gracefully")
}
