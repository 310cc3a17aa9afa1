// Package restore is the orchestration engine: it accepts a restore
// request, verifies the backup fits the target before any byte moves,
// and then drives the background pipeline that downloads, decrypts,
// decompresses, and finally hands the artifact to the database adapter.
//
// The split matters: everything that can reject a request cheaply —
// unknown adapters, cross-vendor restores, version downgrades, a full
// scratch volume — happens synchronously in Start, before an Execution
// exists. Once Start returns an execution id, failures land in that
// execution's log instead of the caller's lap.
package restore

import (
	"context"
	"fmt"
	"os"
	"path"

	"dbvault/internal/adapter"
	"dbvault/internal/archive"
	"dbvault/internal/compat"
	"dbvault/internal/config"
	"dbvault/internal/errors"
	"dbvault/internal/execution"
	"dbvault/internal/logger"
	"dbvault/internal/metrics"
	"dbvault/internal/recovery"
	"dbvault/internal/scratch"
	"dbvault/internal/secrets"
	"dbvault/internal/sidecar"
	"dbvault/internal/worker"
)

// Credentials is an optional privileged override for restores that need
// more rights than the configured connection user has.
type Credentials struct {
	User     string `json:"user" validate:"required"`
	Password string `json:"password"`
}

// Request is one restore submission
type Request struct {
	StorageConfigID    string                    `json:"storageConfigId" validate:"required"`
	File               string                    `json:"file" validate:"required"`
	TargetSourceID     string                    `json:"targetSourceId" validate:"required"`
	TargetDatabaseName string                    `json:"targetDatabaseName,omitempty"`
	DatabaseMapping    []adapter.DatabaseMapping `json:"databaseMapping,omitempty" validate:"omitempty,dive"`
	PrivilegedAuth     *Credentials              `json:"privilegedAuth,omitempty"`
}

// Deps wires the orchestrator's collaborators. All are mandatory except
// Metrics, which may be nil outside serve mode.
type Deps struct {
	Registry   *adapter.Registry
	Store      *config.Store
	Keeper     *secrets.Keeper
	Executions *execution.Store
	Pool       *worker.Pool
	Scratch    *scratch.Manager
	Metrics    *metrics.Metrics
	Log        logger.Logger
}

// Orchestrator coordinates restore executions
type Orchestrator struct {
	reg     *adapter.Registry
	store   *config.Store
	keeper  *secrets.Keeper
	execs   *execution.Store
	pool    *worker.Pool
	scratch *scratch.Manager
	metrics *metrics.Metrics
	rec     *recovery.Recoverer
	arch    *archive.Handler
	log     logger.Logger
}

// New builds the orchestrator
func New(d Deps) *Orchestrator {
	return &Orchestrator{
		reg:     d.Registry,
		store:   d.Store,
		keeper:  d.Keeper,
		execs:   d.Executions,
		pool:    d.Pool,
		scratch: d.Scratch,
		metrics: d.Metrics,
		rec:     recovery.New(d.Log),
		arch:    archive.NewHandler(d.Log),
		log:     d.Log,
	}
}

// pipelineInput is everything the background task needs, resolved and
// validated up front so the pipeline never touches the config store.
type pipelineInput struct {
	file       string
	storage    adapter.Storage
	storageCfg adapter.Config
	db         adapter.Database
	dbCfg      adapter.Config
	overrides  adapter.Overrides
	meta       *sidecar.BackupMetadata
}

// Start validates the request and runs preflight synchronously. On
// success it creates the Execution, submits the pipeline to the pool,
// and returns the running execution immediately; the caller never
// blocks on the restore itself.
func (o *Orchestrator) Start(ctx context.Context, req Request) (*execution.Execution, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	in, err := o.preflight(ctx, req)
	if err != nil {
		return nil, err
	}

	exec := execution.New(execution.TypeRestore, req.File)
	exec.Append(execution.LevelInfo,
		fmt.Sprintf("Restore of %s accepted (storage %s, target %s)",
			req.File, req.StorageConfigID, req.TargetSourceID), "")
	if err := o.execs.Insert(ctx, exec); err != nil {
		return nil, errors.NewInternalError(errors.ErrCodeInvalidState,
			"Cannot persist execution record", err)
	}

	// The pipeline gets a background context on purpose: a started
	// restore runs to completion or failure, it is not tied to the
	// lifetime of the HTTP request that submitted it.
	if _, err := o.pool.Submit("restore "+exec.ID, func() {
		o.run(context.Background(), exec, in)
	}); err != nil {
		exec.Append(execution.LevelError, err.Error(), "")
		exec.Status = execution.StatusFailed
		exec.Metadata.Stage = execution.StageFailed
		_ = o.execs.Update(ctx, exec)
		return nil, errors.NewInternalError(errors.ErrCodeInvalidState,
			"Cannot schedule restore task", err)
	}

	o.log.Info("restore accepted",
		"execution", exec.ID, "file", req.File,
		"storage", req.StorageConfigID, "target", req.TargetSourceID)
	return exec, nil
}

func validateRequest(req Request) error {
	var missing []string
	if req.StorageConfigID == "" {
		missing = append(missing, "storageConfigId")
	}
	if req.File == "" {
		missing = append(missing, "file")
	}
	if req.TargetSourceID == "" {
		missing = append(missing, "targetSourceId")
	}
	if len(missing) > 0 {
		return errors.NewConfigError(errors.ErrCodeInvalidRequest,
			fmt.Sprintf("Restore request is missing required fields: %v", missing),
			"Supply storageConfigId, file, and targetSourceId")
	}
	if req.PrivilegedAuth != nil && req.PrivilegedAuth.User == "" {
		return errors.NewConfigError(errors.ErrCodeInvalidRequest,
			"privilegedAuth supplied without a user", "Set privilegedAuth.user")
	}
	return nil
}

// preflight resolves adapters, fetches the sidecar, and runs every
// check that must pass before a background pipeline may exist.
func (o *Orchestrator) preflight(ctx context.Context, req Request) (*pipelineInput, error) {
	storageCfg, err := o.resolveConfig(req.StorageConfigID, adapter.KindStorage)
	if err != nil {
		return nil, err
	}
	dbCfg, err := o.resolveConfig(req.TargetSourceID, adapter.KindDatabase)
	if err != nil {
		return nil, err
	}

	stor, err := o.reg.Storage(storageCfg.Adapter)
	if err != nil {
		return nil, err
	}
	db, err := o.reg.Database(dbCfg.Adapter)
	if err != nil {
		return nil, err
	}

	meta := o.fetchSidecar(ctx, stor, storageCfg, req.File)

	// Live probe: the guard needs the target's actual version and
	// edition, and an unreachable target should fail now, not after a
	// multi-gigabyte download.
	probe := db.Test(ctx, dbCfg)
	if !probe.Success {
		return nil, errors.NewPreflightError(errors.ErrCodeTargetUnreachable,
			fmt.Sprintf("Restore target %q is not reachable: %s", req.TargetSourceID, probe.Message),
			"Check the target connection parameters and that the server is running")
	}

	result, err := compat.Evaluate(meta, compat.Target{
		Vendor:  dbCfg.Adapter,
		Version: probe.Version,
		Edition: probe.Edition,
	}, db.Descriptor())
	if err != nil {
		return nil, err
	}
	for _, w := range result.Warnings {
		o.log.Warn("compatibility check skipped", "file", req.File, "reason", w)
	}

	if err := o.checkArtifact(ctx, stor, storageCfg, req.File); err != nil {
		return nil, err
	}

	overrides := adapter.Overrides{
		TargetDatabase: req.TargetDatabaseName,
		Mapping:        req.DatabaseMapping,
		ServerVersion:  probe.Version,
	}
	if req.PrivilegedAuth != nil {
		overrides.PrivilegedUser = req.PrivilegedAuth.User
		overrides.PrivilegedPass = req.PrivilegedAuth.Password
	}

	return &pipelineInput{
		file:       req.File,
		storage:    stor,
		storageCfg: storageCfg,
		db:         db,
		dbCfg:      dbCfg,
		overrides:  overrides,
		meta:       meta,
	}, nil
}

// resolveConfig loads an adapter config of the expected kind with its
// connection parameters unsealed.
func (o *Orchestrator) resolveConfig(id string, kind adapter.Kind) (adapter.Config, error) {
	cfg, err := o.store.Adapter(id)
	if err != nil {
		return adapter.Config{}, err
	}
	if cfg.Kind != kind {
		return adapter.Config{}, errors.NewConfigError(errors.ErrCodeInvalidRequest,
			fmt.Sprintf("Adapter config %q is a %s adapter, expected %s", id, cfg.Kind, kind),
			"Check the storageConfigId and targetSourceId fields")
	}

	params, err := o.keeper.OpenAll(cfg.Params)
	if err != nil {
		return adapter.Config{}, err
	}
	cfg.Params = params
	return cfg, nil
}

// fetchSidecar retrieves and parses "<file>.meta.json". Backends with
// the SidecarReader capability serve it from memory; the rest get a
// small ordinary download. A missing or unreadable sidecar falls back
// to filename-based detection — the fallback never invents encryption
// parameters, so a stray encrypted artifact still fails safe later.
func (o *Orchestrator) fetchSidecar(ctx context.Context, stor adapter.Storage, cfg adapter.Config, file string) *sidecar.BackupMetadata {
	sidecarPath := sidecar.PathFor(file)

	var data []byte
	var err error
	if reader, ok := stor.(adapter.SidecarReader); ok {
		data, err = reader.ReadSidecar(ctx, cfg, sidecarPath)
	} else {
		data, err = o.downloadSidecar(ctx, stor, cfg, sidecarPath)
	}
	if err == nil {
		if meta, perr := sidecar.Parse(data); perr == nil {
			return meta
		} else {
			o.log.Warn("sidecar metadata unparseable, falling back to filename detection",
				"file", file, "error", perr)
		}
	} else {
		o.log.Debug("no sidecar metadata for artifact",
			"file", file, "error", err)
	}

	return sidecar.FromFilename(file)
}

func (o *Orchestrator) downloadSidecar(ctx context.Context, stor adapter.Storage, cfg adapter.Config, sidecarPath string) ([]byte, error) {
	tmp, err := os.CreateTemp("", "dbvault-sidecar-*")
	if err != nil {
		return nil, err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := stor.Download(ctx, cfg, sidecarPath, tmpPath, nil); err != nil {
		return nil, err
	}
	return os.ReadFile(tmpPath)
}

// checkArtifact confirms the artifact exists and fits into scratch
// space. Listing can fail on backends with restricted permissions; that
// only downgrades the check, it does not block the restore.
func (o *Orchestrator) checkArtifact(ctx context.Context, stor adapter.Storage, cfg adapter.Config, file string) error {
	dir := path.Dir(file)
	if dir == "." {
		dir = ""
	}

	entries, err := stor.List(ctx, cfg, dir)
	if err != nil {
		o.log.Warn("cannot list storage for artifact preflight",
			"file", file, "error", err)
		return nil
	}

	base := path.Base(file)
	for _, e := range entries {
		if e.Name == base && !e.IsDir {
			return o.scratch.EnsureSpace(e.Size)
		}
	}
	return errors.ArtifactNotFound(file, cfg.ID)
}
