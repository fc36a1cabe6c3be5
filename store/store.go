package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	"github.com/friendsofgo/errors"
	"github.com/kaif367/growupquotexapi/internal"
	"github.com/volatiletech/null/v8"
	"github.com/volatiletech/sqlboiler/v4/queries"
	"github.com/volatiletech/strmangle"
)

var ErrNotFound = errors.New("store: not found")

// Deployment is a row of the deployments table
type Deployment struct {
	ID           int64               `boil:"id"`
	Name         string              `boil:"name"`
	Path         string              `boil:"path"`
	Content      internal.Deployment `boil:"content"`
	State        string              `boil:"state"`
	LastModified time.Time           `boil:"last_modified"`
	LastRun      null.Time           `boil:"last_run"`
	LastError    null.String         `boil:"last_error"`
}

// StepRun is one step outcome of one run
type StepRun struct {
	ID           int64       `boil:"id"`
	RunID        string      `boil:"run_id"`
	DeploymentID int64       `boil:"deployment_id"`
	Step         string      `boil:"step"`
	Status       string      `boil:"status"`
	Digest       string      `boil:"digest"`
	Detail       string      `boil:"detail"`
	Error        null.String `boil:"error"`
	StartedAt    time.Time   `boil:"started_at"`
	FinishedAt   time.Time   `boil:"finished_at"`
}

// Artifact is a file written on the host for a deployment
type Artifact struct {
	ID           int64      `boil:"id"`
	DeploymentID null.Int64 `boil:"deployment_id"`
	Kind         string     `boil:"kind"`
	Path         string     `boil:"path"`
	Digest       string     `boil:"digest"`
	LastModified time.Time  `boil:"last_modified"`
}

var (
	deploymentColumns = []string{"id", "name", "path", "content", "state", "last_modified", "last_run", "last_error"}
	stepRunColumns    = []string{"id", "run_id", "deployment_id", "step", "status", "digest", "detail", "error", "started_at", "finished_at"}
	artifactColumns   = []string{"id", "deployment_id", "kind", "path", "digest", "last_modified"}
)

type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

func New(db *sql.DB) *Store {
	return &Store{DB: db, Now: func() time.Time { return time.Now().UTC() }}
}

func selectFrom(table string, columns []string) string {
	return "SELECT " + strings.Join(columns, ", ") + " FROM " + table
}

func insertInto(table string, columns []string) string {
	return "INSERT INTO " + table + " (" + strings.Join(columns, ", ") + ") VALUES (" +
		strmangle.Placeholders(false, len(columns), 1, 1) + ")"
}

func (s *Store) bindDeployment(ctx context.Context, query string, args ...interface{}) (*Deployment, error) {
	var d Deployment
	err := queries.Raw(query, args...).Bind(ctx, s.DB, &d)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "store: unable to select from deployments")
	}

	d.Content.Name = d.Name
	return &d, nil
}

func (s *Store) bindDeployments(ctx context.Context, query string, args ...interface{}) ([]*Deployment, error) {
	var ds []*Deployment
	err := queries.Raw(query, args...).Bind(ctx, s.DB, &ds)
	if err != nil {
		return nil, errors.Wrap(err, "store: unable to select from deployments")
	}

	for _, d := range ds {
		d.Content.Name = d.Name
	}
	return ds, nil
}

func (s *Store) DeploymentByName(ctx context.Context, name string) (*Deployment, error) {
	return s.bindDeployment(ctx, selectFrom("deployments", deploymentColumns)+" WHERE name = ?", name)
}

func (s *Store) Deployments(ctx context.Context) ([]*Deployment, error) {
	return s.bindDeployments(ctx, selectFrom("deployments", deploymentColumns)+" ORDER BY name")
}

// DueDeployments are pending, never run, or last run before the given time
func (s *Store) DueDeployments(ctx context.Context, before time.Time) ([]*Deployment, error) {
	return s.bindDeployments(ctx,
		selectFrom("deployments", deploymentColumns)+
			" WHERE state = ? OR last_run IS NULL OR last_run < ? ORDER BY name",
		StatePending, before.UTC(),
	)
}

// UpsertDeployment stores the deployment found in path.
// A new or modified deployment goes back to pending.
func (s *Store) UpsertDeployment(ctx context.Context, path string, d internal.Deployment) (bool, error) {
	now := s.Now()

	existing, err := s.DeploymentByName(ctx, d.Name)
	if errors.Is(err, ErrNotFound) {
		_, err = queries.Raw(
			insertInto("deployments", []string{"name", "path", "content", "state", "last_modified"}),
			d.Name, path, d, StatePending, now,
		).ExecContext(ctx, s.DB)
		if err != nil {
			return false, errors.Wrap(err, "store: unable to insert into deployments")
		}
		return true, nil
	}
	if err != nil {
		return false, err
	}

	oldContent, err := existing.Content.Value()
	if err != nil {
		return false, errors.Wrap(err, "store: unable to encode stored deployment")
	}
	newContent, err := d.Value()
	if err != nil {
		return false, errors.Wrap(err, "store: unable to encode deployment")
	}

	if oldContent == newContent && existing.Path == path {
		return false, nil
	}

	_, err = queries.Raw(
		"UPDATE deployments SET "+
			strmangle.SetParamNames(`"`, `"`, 0, []string{"path", "content", "state", "last_modified"})+
			" WHERE id = ?",
		path, d, StatePending, now, existing.ID,
	).ExecContext(ctx, s.DB)
	if err != nil {
		return false, errors.Wrap(err, "store: unable to update deployments")
	}

	return true, nil
}

// DeleteDeploymentsNotIn removes every deployment read from under dir
// whose name is not listed. Their step runs go with them, their artifacts
// become stale. Deployments saved from files elsewhere are left alone.
func (s *Store) DeleteDeploymentsNotIn(ctx context.Context, dir string, names []string) (int64, error) {
	query := `DELETE FROM deployments WHERE path LIKE ? ESCAPE '\'`
	args := []interface{}{likePrefix(dir)}
	for _, name := range names {
		args = append(args, name)
	}
	if len(names) > 0 {
		query += " AND name NOT IN (" + strmangle.Placeholders(false, len(names), 1, 1) + ")"
	}

	result, err := queries.Raw(query, args...).ExecContext(ctx, s.DB)
	if err != nil {
		return 0, errors.Wrap(err, "store: unable to delete from deployments")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "store: failed to get rows affected by delete")
	}
	return rows, nil
}

// likePrefix matches every path below dir
func likePrefix(dir string) string {
	dir = strings.TrimRight(dir, `/\`) + string(filepath.Separator)
	escaper := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return escaper.Replace(dir) + "%"
}

func (s *Store) setRunState(ctx context.Context, name, state string, lastError null.String) error {
	_, err := queries.Raw(
		"UPDATE deployments SET "+
			strmangle.SetParamNames(`"`, `"`, 0, []string{"state", "last_run", "last_error"})+
			" WHERE name = ?",
		state, s.Now(), lastError, name,
	).ExecContext(ctx, s.DB)
	return errors.Wrap(err, "store: unable to update deployment state")
}

func (s *Store) MarkApplied(ctx context.Context, name string) error {
	return s.setRunState(ctx, name, StateApplied, null.String{})
}

func (s *Store) MarkFailed(ctx context.Context, name string, cause error) error {
	return s.setRunState(ctx, name, StateFailed, null.StringFrom(cause.Error()))
}

func (s *Store) RecordStep(ctx context.Context, deployment string, run StepRun) error {
	_, err := queries.Raw(
		"INSERT INTO step_runs (run_id, deployment_id, step, status, digest, detail, error, started_at, finished_at) "+
			"SELECT ?, id, ?, ?, ?, ?, ?, ?, ? FROM deployments WHERE name = ?",
		run.RunID, run.Step, run.Status, run.Digest, run.Detail, run.Error,
		run.StartedAt.UTC(), run.FinishedAt.UTC(), deployment,
	).ExecContext(ctx, s.DB)
	return errors.Wrap(err, "store: unable to insert into step_runs")
}

// LastDigest is the digest recorded by the last successful run of a step
func (s *Store) LastDigest(ctx context.Context, deployment, step string) (string, error) {
	var row struct {
		Digest string `boil:"digest"`
	}

	err := queries.Raw(`SELECT step_runs.digest FROM step_runs
		INNER JOIN deployments ON deployments.id = step_runs.deployment_id
		WHERE deployments.name = ? AND step_runs.step = ?
		AND step_runs.status IN ('ok', 'changed') AND step_runs.digest != ''
		ORDER BY step_runs.id DESC LIMIT 1`, deployment, step,
	).Bind(ctx, s.DB, &row)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "store: unable to select digest")
	}

	return row.Digest, nil
}

// LastRuns returns the steps of the most recent run of a deployment
func (s *Store) LastRuns(ctx context.Context, deployment string) ([]*StepRun, error) {
	var runs []*StepRun

	columns := make([]string, len(stepRunColumns))
	for i, c := range stepRunColumns {
		columns[i] = "step_runs." + c
	}

	err := queries.Raw(selectFrom("step_runs", columns)+`
		WHERE step_runs.run_id = (
			SELECT sr.run_id FROM step_runs sr
			INNER JOIN deployments ON deployments.id = sr.deployment_id
			WHERE deployments.name = ?
			ORDER BY sr.id DESC LIMIT 1
		) ORDER BY step_runs.id`, deployment,
	).Bind(ctx, s.DB, &runs)
	if err != nil {
		return nil, errors.Wrap(err, "store: unable to select from step_runs")
	}

	return runs, nil
}

// RecordArtifact remembers that path was written for deployment
func (s *Store) RecordArtifact(ctx context.Context, deployment, kind, path, digest string) error {
	_, err := queries.Raw(`INSERT INTO artifacts (deployment_id, kind, path, digest, last_modified)
		SELECT id, ?, ?, ?, ? FROM deployments WHERE name = ?
		ON CONFLICT (path) DO UPDATE SET
			deployment_id = excluded.deployment_id,
			kind = excluded.kind,
			digest = excluded.digest,
			last_modified = excluded.last_modified`,
		kind, path, digest, s.Now(), deployment,
	).ExecContext(ctx, s.DB)
	return errors.Wrap(err, "store: unable to upsert artifacts")
}

// StaleArtifacts belong to deployments that no longer exist
func (s *Store) StaleArtifacts(ctx context.Context) ([]*Artifact, error) {
	var artifacts []*Artifact
	err := queries.Raw(selectFrom("artifacts", artifactColumns)+" WHERE deployment_id IS NULL ORDER BY id").
		Bind(ctx, s.DB, &artifacts)
	if err != nil {
		return nil, errors.Wrap(err, "store: unable to select from artifacts")
	}
	return artifacts, nil
}

func (s *Store) Artifacts(ctx context.Context, deployment string) ([]*Artifact, error) {
	columns := make([]string, len(artifactColumns))
	for i, c := range artifactColumns {
		columns[i] = "artifacts." + c
	}

	var artifacts []*Artifact
	err := queries.Raw(selectFrom("artifacts", columns)+`
		INNER JOIN deployments ON deployments.id = artifacts.deployment_id
		WHERE deployments.name = ? ORDER BY artifacts.id`, deployment,
	).Bind(ctx, s.DB, &artifacts)
	if err != nil {
		return nil, errors.Wrap(err, "store: unable to select from artifacts")
	}
	return artifacts, nil
}

func (s *Store) DeleteArtifact(ctx context.Context, id int64) error {
	_, err := queries.Raw("DELETE FROM artifacts WHERE id = ?", id).ExecContext(ctx, s.DB)
	return errors.Wrap(err, "store: unable to delete from artifacts")
}

// Purge forgets every run so the next reconcile applies everything again.
// Artifacts are kept so nothing on the host is orphaned.
func (s *Store) Purge(ctx context.Context) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "store: could not begin transaction")
	}
	defer tx.Rollback()

	if _, err = queries.Raw("DELETE FROM step_runs").ExecContext(ctx, tx); err != nil {
		return errors.Wrap(err, "store: unable to delete from step_runs")
	}

	_, err = queries.Raw(
		"UPDATE deployments SET state = ?, last_run = NULL, last_error = NULL", StatePending,
	).ExecContext(ctx, tx)
	if err != nil {
		return errors.Wrap(err, "store: unable to reset deployments")
	}

	return errors.Wrap(tx.Commit(), "store: could not commit purge")
}
