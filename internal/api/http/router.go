package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/securegrade/securegrade/internal/assignment"
	sessions "github.com/securegrade/securegrade/internal/auth"
	auth "github.com/securegrade/securegrade/internal/auth/middleware"
	"github.com/securegrade/securegrade/internal/classroom"
	"github.com/securegrade/securegrade/internal/grade"
	"github.com/securegrade/securegrade/internal/langs"
	"github.com/securegrade/securegrade/internal/scheduler"
)

// Deps carries the stores and services the routes close over.
type Deps struct {
	Sessions    *sessions.Store
	Classes     *classroom.Store
	Assignments *assignment.Store
	Grades      *grade.Store
	Queue       *scheduler.Scheduler
	Langs       *langs.Registry
	Log         hclog.Logger
}

// Mount registers the whole API at r's root: the public auth pair, then
// one route group per authorization layer. Callers mount it twice, once
// at / and once under /api, to keep both prefixes alive.
func Mount(r chi.Router, d Deps) {
	log := orNull(d.Log)

	r.Post("/login", LoginHandler(d.Sessions, log))
	r.Post("/signup", SignupHandler(d.Sessions, log))

	r.Group(func(gr chi.Router) {
		gr.Use(auth.RequireSession(d.Sessions, log))
		gr.Put("/join_class", JoinClassHandler(d.Classes, log))
		gr.Get("/get_classes", GetClassesHandler(d.Classes, log))
		gr.Get("/list_all_students", ListAllStudentsHandler(d.Classes, log))
		gr.Get("/get_supported_languages", SupportedLanguagesHandler(d.Langs, log))
	})

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(auth.RequireAdmin(d.Sessions, log))
		ar.Post("/create_class", CreateClassHandler(d.Classes, log))
	})

	r.Route("/instructor/{class_number}", func(ir chi.Router) {
		ir.Use(auth.RequireInstructor(d.Sessions, log))
		ir.Put("/add_instructor", AddInstructorHandler(d.Classes, log))
		ir.Put("/add_student", AddStudentHandler(d.Classes, log))
		ir.Post("/add_assignment", AddAssignmentHandler(d.Assignments, log))
		ir.Put("/{assignment_id}/update_assignment", UpdateAssignmentHandler(d.Assignments, log))
		ir.Get("/{assignment_id}/retrieve_scores", RetrieveScoresHandler(d.Grades, log))
		ir.Get("/{assignment_id}/retrieve_full_assignment", RetrieveFullAssignmentHandler(d.Assignments, log))
		ir.Get("/{assignment_id}/download/{username}", DownloadSubmissionHandler(d.Grades, log))
		ir.Get("/generate_join_code", GenerateJoinCodeHandler(d.Classes, log))
		ir.Get("/list_all_students", ListAllStudentsHandler(d.Classes, log))
	})

	r.Route("/student/{class_number}", func(sr chi.Router) {
		sr.Use(auth.RequireStudent(d.Sessions, log))
		sr.Get("/", ClassInfoHandler(d.Classes, d.Assignments, d.Grades, log))
		sr.Get("/{assignment_id}", GetAssignmentHandler(d.Assignments, log))
		sr.Post("/{assignment_id}/{task_id}/submit", SubmitHandler(d.Grades, d.Queue, log))
		sr.Get("/{assignment_id}/{task_id}/retrieve_score", RetrieveScoreHandler(d.Grades, log))
		sr.Get("/{assignment_id}/{task_id}/download_material", DownloadMaterialHandler(d.Assignments, log))
	})
}
