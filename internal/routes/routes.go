// Package routes wires the HTTP surface together: repositories, services,
// middleware and handlers are constructed here and mounted on the router.
package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/hivecrack/hivecrack/internal/config"
	"github.com/hivecrack/hivecrack/internal/db"
	agenthandler "github.com/hivecrack/hivecrack/internal/handlers/agent"
	"github.com/hivecrack/hivecrack/internal/middleware"
	"github.com/hivecrack/hivecrack/internal/notify"
	"github.com/hivecrack/hivecrack/internal/repository"
	"github.com/hivecrack/hivecrack/internal/services"
	"github.com/hivecrack/hivecrack/pkg/debug"
)

// Engine bundles the long-lived pieces the server binary manages.
type Engine struct {
	Router     *mux.Router
	Rebalancer *services.Rebalancer
	Cleanup    *services.CleanupService
	Hub        *notify.Hub
}

// Setup builds the full engine: every repository, service and handler, wired
// in dependency order.
func Setup(database *db.DB, cfg *config.Config) *Engine {
	agentRepo := repository.NewAgentRepository(database)
	attackRepo := repository.NewAttackRepository(database)
	taskRepo := repository.NewTaskRepository(database)
	campaignRepo := repository.NewCampaignRepository(database)
	crackRepo := repository.NewCrackResultRepository(database)

	hub := notify.NewHub()

	preemption := services.NewPreemptionService(database, taskRepo)
	rebalancer := services.NewRebalancer(attackRepo, preemption)
	policy := services.NewBenchmarkSlicePolicy(cfg.ChunkDuration, cfg.ChunkFluctuationPercent)
	assignment := services.NewAssignmentService(
		database, agentRepo, attackRepo, taskRepo, preemption, policy, cfg.AgentStaleAfter)
	taskService := services.NewTaskService(
		database, taskRepo, attackRepo, campaignRepo, crackRepo, rebalancer, hub)
	agentService := services.NewAgentService(agentRepo)
	cleanup := services.NewCleanupService(taskRepo)

	agentHandler := agenthandler.NewAgentHandler(agentService)
	taskHandler := agenthandler.NewTaskHandler(taskService, assignment)

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")

	api := router.PathPrefix("/api/v1/client").Subrouter()
	api.HandleFunc("/register", agentHandler.Register).Methods("POST", "OPTIONS")

	authed := api.NewRoute().Subrouter()
	authed.Use(middleware.AgentAuth(agentService))
	authed.HandleFunc("/authenticate", agentHandler.Authenticate).Methods("GET")
	authed.HandleFunc("/agents/heartbeat", agentHandler.Heartbeat).Methods("POST", "OPTIONS")
	authed.HandleFunc("/agents/benchmarks", agentHandler.SubmitBenchmarks).Methods("POST", "OPTIONS")
	authed.HandleFunc("/agents/error", agentHandler.ReportError).Methods("POST", "OPTIONS")
	authed.HandleFunc("/agents/shutdown", agentHandler.Shutdown).Methods("POST", "OPTIONS")

	authed.HandleFunc("/tasks/new", taskHandler.NextTask).Methods("GET")
	authed.HandleFunc("/tasks/{id}", taskHandler.GetTask).Methods("GET")
	authed.HandleFunc("/tasks/{id}/accept", taskHandler.Accept).Methods("POST", "OPTIONS")
	authed.HandleFunc("/tasks/{id}/submit_status", taskHandler.SubmitStatus).Methods("POST", "OPTIONS")
	authed.HandleFunc("/tasks/{id}/submit_crack", taskHandler.SubmitCrack).Methods("POST", "OPTIONS")
	authed.HandleFunc("/tasks/{id}/exhausted", taskHandler.Exhaust).Methods("POST", "OPTIONS")
	authed.HandleFunc("/tasks/{id}/abandon", taskHandler.Abandon).Methods("POST", "OPTIONS")
	authed.HandleFunc("/tasks/{id}/get_zaps", taskHandler.GetZaps).Methods("GET")

	router.HandleFunc("/api/v1/events", hub.ServeWS).Methods("GET")

	debug.Info("Routes configured")
	return &Engine{
		Router:     router,
		Rebalancer: rebalancer,
		Cleanup:    cleanup,
		Hub:        hub,
	}
}
