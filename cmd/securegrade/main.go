package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"

	api "github.com/securegrade/securegrade/internal/api/http"
	"github.com/securegrade/securegrade/internal/assignment"
	sessions "github.com/securegrade/securegrade/internal/auth"
	"github.com/securegrade/securegrade/internal/classroom"
	"github.com/securegrade/securegrade/internal/config"
	"github.com/securegrade/securegrade/internal/db"
	"github.com/securegrade/securegrade/internal/grade"
	"github.com/securegrade/securegrade/internal/langs"
	"github.com/securegrade/securegrade/internal/sandbox"
	"github.com/securegrade/securegrade/internal/scheduler"
)

func main() {
	cfg := config.FromEnv()

	log := hclog.New(&hclog.LoggerOptions{
		Name:  "securegrade",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	if cfg.DBDriver == "postgres" && cfg.DBDSN == "" && (cfg.PSQLName == "" || cfg.PSQLPass == "") {
		log.Error("PSQL_NAME and PSQL_PASS must be set")
		os.Exit(1)
	}

	// --- DB ---
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	dbh, err := db.Open(ctx, db.Driver(cfg.DBDriver), cfg.DSN())
	cancel()
	if err != nil {
		log.Error("db open failed", "error", err)
		os.Exit(1)
	}

	// --- Stores ---
	auth := sessions.NewStore(dbh, sessions.WithScheme(sessions.Scheme(cfg.PasswordScheme)))
	classes := classroom.NewStore(dbh)
	assignments := assignment.NewStore(dbh, log.Named("assignment"))
	grades := grade.NewStore(dbh, cfg.WorkDir)

	if cfg.AdminUserName != "" {
		promoted, err := auth.PromoteAdmin(context.Background(), cfg.AdminUserName)
		if err != nil {
			log.Error("admin promotion failed", "user", cfg.AdminUserName, "error", err)
			os.Exit(1)
		}
		if promoted {
			log.Info("promoted admin account", "user", cfg.AdminUserName)
		}
	}

	// --- Grading pipeline ---
	recipes, err := langs.NewRegistry(cfg.DockerfilesDir, 30*time.Second, log.Named("langs"))
	if err != nil {
		log.Error("language registry failed", "dir", cfg.DockerfilesDir, "error", err)
		os.Exit(1)
	}
	defer recipes.Close()

	runtime := sandbox.NewCLIRuntime(cfg.ContainerRuntime, log)
	executor := sandbox.NewExecutor(runtime, recipes, cfg.WorkDir, log)
	queue := scheduler.New(cfg.QueueSize, cfg.NThreads, executor, assignments, grades, log)
	go queue.Run(context.Background())

	// --- Router ---
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Language"},
		ExposedHeaders:   []string{"Content-Length", "admin", "instructor", "student"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	deps := api.Deps{
		Sessions:    auth,
		Classes:     classes,
		Assignments: assignments,
		Grades:      grades,
		Queue:       queue,
		Langs:       recipes,
		Log:         log.Named("api"),
	}
	api.Mount(r, deps)
	r.Route("/api", func(ar chi.Router) { api.Mount(ar, deps) })

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := dbh.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	log.Info("listening", "addr", cfg.HTTPAddr, "db", cfg.DBDriver, "workers", cfg.NThreads)
	if cfg.InsecureHTTP {
		log.Warn("serving plain HTTP; set TLS_CERT and TLS_KEY for production")
		err = http.ListenAndServe(cfg.HTTPAddr, r)
	} else {
		err = http.ListenAndServeTLS(cfg.HTTPAddr, cfg.TLSCert, cfg.TLSKey, r)
	}
	log.Error("server stopped", "error", err)
	os.Exit(1)
}
