package main

import (
	"log/slog"
	"net/http"

	"github.com/serani/backend/internal/auth"
	"github.com/serani/backend/internal/booking"
	"github.com/serani/backend/internal/handlers"
	"github.com/serani/backend/internal/identity"
	"github.com/serani/backend/internal/middleware"
	"github.com/serani/backend/internal/repository"
	"github.com/serani/backend/internal/services"
)

// RegisterV1Routes adds the /v1/ API endpoints to the given mux.
// Middleware chain: JWTAuth -> handler; auth endpoints are public.
func RegisterV1Routes(
	mux *http.ServeMux,
	authHandler *auth.Handler,
	authSvc auth.Service,
	runnerRepo *repository.RunnerRepo,
	taskRepo *repository.TaskRepo,
	userRepo *repository.UserRepo,
	chatRepo *repository.ChatRepo,
	coordinator *booking.Coordinator,
	validator *services.RequestValidator,
	logger *slog.Logger,
) {
	bh := &handlers.BookingHandler{
		Bookings:  coordinator,
		Validator: validator,
		Logger:    logger,
	}
	rh := &handlers.RunnerHandler{
		Runners: runnerRepo,
		Users:   userRepo,
		Logger:  logger,
	}
	th := &handlers.TaskHandler{
		Tasks:     taskRepo,
		Runners:   runnerRepo,
		Stats:     runnerRepo,
		Validator: validator,
		Logger:    logger,
	}
	uh := &handlers.UserHandler{
		Users:  userRepo,
		Logger: logger,
	}
	ch := &handlers.ChatHandler{
		Chats:  chatRepo,
		Logger: logger,
	}
	ih := &handlers.IdentityHandler{
		Resolver: identity.NewResolver(userRepo, runnerRepo),
		Logger:   logger,
	}
	sh := &handlers.StreamHandler{
		Runners:  runnerRepo,
		Tasks:    taskRepo,
		Profiles: userRepo,
		Skills:   runnerRepo,
		Logger:   logger,
	}

	authed := middleware.JWTAuth(authSvc)

	// Public auth endpoints.
	mux.HandleFunc("POST /v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /v1/auth/login", authHandler.Login)

	// Role resolution.
	mux.Handle("GET /v1/me", authed(http.HandlerFunc(ih.Me)))

	// Booking.
	mux.Handle("POST /v1/bookings/preview", authed(http.HandlerFunc(bh.Preview)))
	mux.Handle("POST /v1/bookings", authed(http.HandlerFunc(bh.Create)))

	// Runner presence and discovery.
	mux.Handle("PUT /v1/runners/{id}/presence", authed(http.HandlerFunc(rh.UpdatePresence)))
	mux.Handle("PUT /v1/runners/{id}/availability", authed(http.HandlerFunc(rh.SetAvailability)))
	mux.Handle("GET /v1/runners/nearby", authed(http.HandlerFunc(rh.NearbyRunners)))
	mux.Handle("GET /v1/runners/nearby/stream", authed(http.HandlerFunc(sh.NearbyRunnersStream)))

	// Client preferences.
	mux.Handle("PUT /v1/users/{id}/preferences", authed(http.HandlerFunc(uh.UpdatePreferences)))

	// Tasks.
	mux.Handle("POST /v1/tasks", authed(http.HandlerFunc(th.CreateTask)))
	mux.Handle("PUT /v1/tasks/{id}/status", authed(http.HandlerFunc(th.UpdateStatus)))
	mux.Handle("GET /v1/tasks/nearby", authed(http.HandlerFunc(th.NearbyTasks)))
	mux.Handle("GET /v1/tasks/nearby/stream", authed(http.HandlerFunc(sh.NearbyTasksStream)))
	mux.Handle("GET /v1/tasks/{id}", authed(http.HandlerFunc(th.GetTask)))
	mux.Handle("GET /v1/tasks", authed(http.HandlerFunc(th.ListTasks)))

	// Chat.
	mux.Handle("GET /v1/chats/{taskId}/messages", authed(http.HandlerFunc(ch.ListMessages)))
	mux.Handle("POST /v1/chats/{taskId}/messages", authed(http.HandlerFunc(ch.SendMessage)))
}
