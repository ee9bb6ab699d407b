package main

import (
	"context"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"chatwire/internal/auth"
	"chatwire/internal/chat"
	"chatwire/internal/config"
	"chatwire/internal/db"
	myMiddleware "chatwire/internal/middleware"
	"chatwire/internal/user"
)

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Bad configuration: %v", err)
	}

	// 2. Connect to Database (Platform Layer)
	database, err := db.NewDatabase(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("❌ Failed to connect to DB: %v", err)
	}
	log.Println("✅ Connected to PostgreSQL")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("❌ Migration failed: %v", err)
	}
	log.Println("✅ Database Schema Initialized")

	// 3. Connect to Redis (Platform Layer)
	redisClient := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	if _, err := redisClient.Ping(context.Background()).Result(); err != nil {
		log.Fatalf("❌ Failed to connect to Redis: %v", err)
	}
	log.Println("✅ Connected to Redis")

	// 4. Auth (access tokens for the API and websocket, short-lived tokens
	// for the email verification round-trip)
	accessAuth := auth.NewAuthenticator(cfg.JWTAccessSecret, "chatwire", cfg.AccessTokenTTL)
	emailAuth := auth.NewAuthenticator(cfg.JWTEmailSecret, "chatwire-email", cfg.EmailTokenTTL)

	// 5. User Feature
	userRepo := user.NewRepository(database.Conn)
	userService := user.NewService(userRepo, accessAuth, emailAuth,
		user.NewRedisCodeStore(redisClient), user.LogMailer{})
	userHandler := user.NewHandler(userService)

	// 6. Chat Feature
	chatRepo := chat.NewRepository(database.Conn)
	chatService := chat.NewService(chatRepo)
	presence := chat.NewRedisPresence(redisClient)

	hub := chat.NewHub(presence)
	go hub.Run()

	chatHandler := chat.NewHandler(hub, chatService, accessAuth, presence)

	authMiddleware := myMiddleware.NewAuthMiddleware(accessAuth)

	// 7. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Public Routes
	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)
	r.Post("/verify-email", userHandler.VerifyEmail)
	r.Post("/resend-code", userHandler.ResendCode)

	// WebSocket (authenticates its own handshake before upgrading)
	r.Get("/ws", chatHandler.ServeWs)

	// Protected Routes (Require JWT)
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users/search", userHandler.SearchUsers)
		r.Get("/api/users/online", chatHandler.ListOnline)

		r.Post("/api/chats", chatHandler.StartChat)
		r.Get("/api/chats", chatHandler.ListChats)
		r.Get("/api/chats/archived", chatHandler.ListArchived)
		r.Get("/api/chats/{chatID}", chatHandler.GetChat)
		r.Delete("/api/chats/{chatID}", chatHandler.DeleteChat)
		r.Get("/api/chats/{chatID}/messages", chatHandler.GetMessages)
		r.Post("/api/chats/{chatID}/participants", chatHandler.AddParticipants)
		r.Delete("/api/chats/{chatID}/participants", chatHandler.RemoveParticipants)
		r.Post("/api/chats/{chatID}/archive", chatHandler.Archive)
		r.Post("/api/chats/{chatID}/unarchive", chatHandler.Unarchive)
	})

	log.Printf("🚀 Server starting on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatal(err)
	}
}
