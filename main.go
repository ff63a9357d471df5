package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	authgw "retouch-complete/auth"
	"retouch-complete/editor"
	"retouch-complete/generation"
	editorHandlers "retouch-complete/handlers/api/editor"
	galleryHandlers "retouch-complete/handlers/api/gallery"
	authHandlers "retouch-complete/handlers/auth"
	sessionMiddleware "retouch-complete/middleware"
	"retouch-complete/stores"
)

func setupRouter(
	store stores.Store,
	gateway *authgw.Gateway,
	cookies *authgw.CookieStore,
	workflows *editor.Manager,
) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length", "Origin", "Host", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}))

	r.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandlers.HandleSignup(gateway, cookies))
		r.Post("/login", authHandlers.HandleLogin(gateway, cookies))
		r.Get("/", authHandlers.HandleSession(gateway, cookies, store.Users))
		r.Delete("/", authHandlers.HandleLogout(gateway, cookies, workflows))
		r.Put("/", authHandlers.HandleExists(gateway))
	})

	r.Route("/api/v2", func(r chi.Router) {
		r.Use(sessionMiddleware.SessionAuth(cookies, gateway))

		r.Route("/editor", func(r chi.Router) {
			r.Get("/", editorHandlers.HandleState(workflows))
			r.Post("/image", editorHandlers.HandleUpload(workflows))
			r.Post("/crop", editorHandlers.HandleCrop(workflows))
			r.Post("/recrop", editorHandlers.HandleRecrop(workflows))
			r.Put("/selection", editorHandlers.HandleSelection(workflows))
			r.Post("/generate", editorHandlers.HandleGenerate(workflows))
			r.Get("/download", editorHandlers.HandleDownload(workflows))
			r.Post("/save", editorHandlers.HandleSave(workflows, store.Edits))
		})

		r.Route("/gallery", func(r chi.Router) {
			r.Get("/", galleryHandlers.HandleList(store.Edits))
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", galleryHandlers.HandleGet(store.Edits))
				r.Delete("/", galleryHandlers.HandleDelete(store.Edits))
			})
		})
	})

	return r
}

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		logrus.Info("No .env file found")
	}

	listenAddress := flag.String("listen", ":3002", "The address to listen on.")
	logLevel := flag.String("loglevel", "info", "The log level (debug, info, warn, error).")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %v", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	store := stores.GetStore()
	gateway := authgw.NewGateway(store.Users, []byte(os.Getenv("JWT_SECRET")))
	cookies := authgw.NewCookieStore(os.Getenv("COOKIE_SECURE") == "true")

	baseURL := os.Getenv("IMAGE_EDIT_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	apiKey := os.Getenv("IMAGE_EDIT_API_KEY")
	if apiKey == "" {
		logrus.Warn("IMAGE_EDIT_API_KEY is not set. Generation requests will be rejected by the service.")
	}
	workflows := editor.NewManager(generation.NewClient(baseURL, apiKey))

	r := setupRouter(store, gateway, cookies, workflows)

	server := &http.Server{
		Addr:    *listenAddress,
		Handler: r,
	}

	go func() {
		logrus.WithField("addr", *listenAddress).Info("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	<-signalC

	logrus.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Forced shutdown")
	}
}
