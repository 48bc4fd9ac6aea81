package db

// Timestamps (deadline, expiration) are stored as unix seconds so the same
// store code runs against both drivers; comparisons happen in Go.

const schemaSQLite = `
PRAGMA foreign_keys=ON;

CREATE TABLE IF NOT EXISTS users (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  user_name TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL UNIQUE,
  is_admin BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS user_auth (
  hash BLOB PRIMARY KEY,
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS user_session (
  session_hash BLOB PRIMARY KEY,
  expiration BIGINT NOT NULL,
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS classes (
  class_number TEXT PRIMARY KEY,
  class_description TEXT
);

CREATE TABLE IF NOT EXISTS user_class (
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  class_number TEXT NOT NULL REFERENCES classes(class_number) ON DELETE CASCADE,
  is_instructor BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (user_id, class_number)
);

CREATE TABLE IF NOT EXISTS class_join_code (
  join_code TEXT PRIMARY KEY,
  class_number TEXT NOT NULL REFERENCES classes(class_number) ON DELETE CASCADE,
  expiration BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  assignment_name TEXT NOT NULL,
  assignment_description TEXT,
  deadline BIGINT NOT NULL,
  visible BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS assignment_class (
  assignment_id INTEGER NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
  class_number TEXT NOT NULL REFERENCES classes(class_number) ON DELETE CASCADE,
  PRIMARY KEY (assignment_id, class_number)
);

CREATE TABLE IF NOT EXISTS tasks (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  assignment_id INTEGER NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
  task_description TEXT,
  allow_editor BOOLEAN NOT NULL DEFAULT FALSE,
  placement INTEGER NOT NULL DEFAULT 0,
  template BLOB,
  supplementary_material BLOB,
  supplementary_filename TEXT,
  test_method TEXT NOT NULL DEFAULT 'stdio'
);

CREATE TABLE IF NOT EXISTS tests (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  test_name TEXT,
  input TEXT NOT NULL DEFAULT '',
  output TEXT NOT NULL DEFAULT '',
  public BOOLEAN NOT NULL DEFAULT FALSE,
  timeout INTEGER
);

CREATE TABLE IF NOT EXISTS user_task_grade (
  user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  task_id INTEGER NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  assignment_id INTEGER NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
  json_results BLOB,
  submission_zip BLOB,
  grade REAL,
  error TEXT,
  was_late BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (user_id, task_id)
);
`

const schemaPostgres = `
CREATE SCHEMA IF NOT EXISTS autograder;

CREATE TABLE IF NOT EXISTS users (
  id INT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
  first_name TEXT NOT NULL,
  last_name TEXT NOT NULL,
  user_name TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL UNIQUE,
  is_admin BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS user_auth (
  hash BYTEA PRIMARY KEY,
  user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS user_session (
  session_hash BYTEA PRIMARY KEY,
  expiration BIGINT NOT NULL,
  user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS classes (
  class_number TEXT PRIMARY KEY,
  class_description TEXT
);

CREATE TABLE IF NOT EXISTS user_class (
  user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  class_number TEXT NOT NULL REFERENCES classes(class_number) ON DELETE CASCADE,
  is_instructor BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (user_id, class_number)
);

CREATE TABLE IF NOT EXISTS class_join_code (
  join_code TEXT PRIMARY KEY,
  class_number TEXT NOT NULL REFERENCES classes(class_number) ON DELETE CASCADE,
  expiration BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS assignments (
  id INT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
  assignment_name TEXT NOT NULL,
  assignment_description TEXT,
  deadline BIGINT NOT NULL,
  visible BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS assignment_class (
  assignment_id INT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
  class_number TEXT NOT NULL REFERENCES classes(class_number) ON DELETE CASCADE,
  PRIMARY KEY (assignment_id, class_number)
);

CREATE TABLE IF NOT EXISTS tasks (
  id INT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
  assignment_id INT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
  task_description TEXT,
  allow_editor BOOLEAN NOT NULL DEFAULT FALSE,
  placement INT NOT NULL DEFAULT 0,
  template BYTEA,
  supplementary_material BYTEA,
  supplementary_filename TEXT,
  test_method TEXT NOT NULL DEFAULT 'stdio'
);

CREATE TABLE IF NOT EXISTS tests (
  id INT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
  task_id INT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  test_name TEXT,
  input TEXT NOT NULL DEFAULT '',
  output TEXT NOT NULL DEFAULT '',
  public BOOLEAN NOT NULL DEFAULT FALSE,
  timeout INT
);

CREATE TABLE IF NOT EXISTS user_task_grade (
  user_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
  task_id INT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
  assignment_id INT NOT NULL REFERENCES assignments(id) ON DELETE CASCADE,
  json_results BYTEA,
  submission_zip BYTEA,
  grade REAL,
  error TEXT,
  was_late BOOLEAN NOT NULL DEFAULT FALSE,
  PRIMARY KEY (user_id, task_id)
);
`
