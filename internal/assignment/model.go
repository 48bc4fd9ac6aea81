package assignment

// Input is the instructor-facing payload for creating or replacing an
// assignment. Tasks keep their input order as placement.
type Input struct {
	Name        string      `json:"assignment_name"`
	Description *string     `json:"assignment_description"`
	Deadline    string      `json:"deadline"`
	Tasks       []TaskInput `json:"tasks"`
}

type TaskInput struct {
	TaskDescription  string      `json:"task_description"`
	AllowEditor      bool        `json:"allow_editor"`
	MaterialBase64   *string     `json:"material_base64"`
	MaterialFilename *string     `json:"material_filename"`
	Timeout          *int        `json:"timeout"`
	Tests            []TestInput `json:"tests"`
}

// TestInput accepts the expected transcript either inline or as uploaded
// files. When both forms are present the file wins.
type TestInput struct {
	TestName         *string `json:"test_name"`
	IsPublic         bool    `json:"is_public"`
	Input            *string `json:"input"`
	Output           *string `json:"output"`
	InputFileBase64  *string `json:"input_file_base64"`
	OutputFileBase64 *string `json:"output_file_base64"`
}

// Assignment is the student view: tasks without their tests.
type Assignment struct {
	AssignmentID int64   `json:"assignment_id"`
	Name         string  `json:"name"`
	Description  *string `json:"description"`
	Tasks        []Task  `json:"tasks"`
	Deadline     string  `json:"deadline"`
}

type Task struct {
	Description *string `json:"description"`
	TaskID      int64   `json:"task_id"`
	Placement   int     `json:"placement"`
	AllowEditor bool    `json:"allow_editor"`
}

// Info is one row of a class page's assignment list.
type Info struct {
	AssignmentID int64   `json:"assignment_id"`
	Name         string  `json:"assignment_name"`
	Description  *string `json:"assignment_description"`
	Deadline     string  `json:"assignment_deadline"`
	Score        float32 `json:"assignment_score"`
}

// Full is the instructor view, tests and all.
type Full struct {
	AssignmentID int64      `json:"assignment_id"`
	Name         string     `json:"assignment_name"`
	Description  *string    `json:"assignment_description"`
	Deadline     string     `json:"deadline"`
	Visible      bool       `json:"visible"`
	Tasks        []FullTask `json:"tasks"`
}

type FullTask struct {
	TaskID           int64      `json:"task_id"`
	Description      *string    `json:"task_description"`
	Placement        int        `json:"placement"`
	AllowEditor      bool       `json:"allow_editor"`
	MaterialFilename *string    `json:"material_filename"`
	Tests            []FullTest `json:"tests"`
}

type FullTest struct {
	TestID   int64   `json:"test_id"`
	TestName *string `json:"test_name"`
	Input    string  `json:"input"`
	Output   string  `json:"output"`
	IsPublic bool    `json:"is_public"`
	Timeout  *int    `json:"timeout"`
}

// Material is a task's downloadable hand-out.
type Material struct {
	Material string `json:"material"`
	Filename string `json:"filename"`
}
