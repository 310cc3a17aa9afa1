package cmd

import (
	"fmt"
	"os"

	"dbvault/internal/adapter"
	"dbvault/internal/config"
	"dbvault/internal/dbms"
	"dbvault/internal/execution"
	"dbvault/internal/metrics"
	"dbvault/internal/restore"
	"dbvault/internal/scratch"
	"dbvault/internal/secrets"
	"dbvault/internal/storage"
	"dbvault/internal/worker"
)

// runtime is the assembled service: every command that touches a
// restore builds one, serve keeps it alive, one-shot commands close it
// when done.
type runtime struct {
	store   *config.Store
	keeper  *secrets.Keeper
	execs   *execution.Store
	pool    *worker.Pool
	scratch *scratch.Manager
	reg     *adapter.Registry
	metrics *metrics.Metrics
	orch    *restore.Orchestrator
}

// newRuntime wires the service from the loaded configuration.
// withMetrics is set by serve; one-shot commands skip the registry
// overhead.
func newRuntime(withMetrics bool) (*runtime, error) {
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}

	store, err := config.OpenStore(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	masterKey, err := secrets.LoadMasterKey(cfg.MasterKeyPath)
	if err != nil {
		_, statErr := os.Stat(cfg.MasterKeyPath)
		if !os.IsNotExist(statErr) || os.Getenv(secrets.MasterKeyEnv) != "" {
			return nil, fmt.Errorf("loading master key: %w", err)
		}
		log.Warn("no master key found, generating one", "path", cfg.MasterKeyPath)
		masterKey, err = secrets.GenerateMasterKey(cfg.MasterKeyPath)
		if err != nil {
			return nil, fmt.Errorf("generating master key: %w", err)
		}
	}
	keeper, err := secrets.NewKeeper(masterKey)
	if err != nil {
		return nil, err
	}

	execs, err := execution.OpenStore(cfg.ExecutionDBPath)
	if err != nil {
		return nil, err
	}

	retry := storage.DefaultRetryConfig().WithRetries(cfg.TransferRetries)
	reg := adapter.NewRegistry(map[string]adapter.Storage{
		"local":  storage.NewLocal(log),
		"s3":     storage.NewS3(log, retry),
		"sftp":   storage.NewSFTP(log, retry),
		"gdrive": storage.NewGDrive(log, retry),
	}, dbms.Adapters(log))

	var m *metrics.Metrics
	if withMetrics {
		m = metrics.New()
	}

	pool := worker.NewPool(cfg.RestoreWorkers, log)
	scratchMgr := scratch.NewManager(cfg.ScratchDir, cfg.ScratchFactor, log)

	orch := restore.New(restore.Deps{
		Registry:   reg,
		Store:      store,
		Keeper:     keeper,
		Executions: execs,
		Pool:       pool,
		Scratch:    scratchMgr,
		Metrics:    m,
		Log:        log,
	})

	return &runtime{
		store:   store,
		keeper:  keeper,
		execs:   execs,
		pool:    pool,
		scratch: scratchMgr,
		reg:     reg,
		metrics: m,
		orch:    orch,
	}, nil
}

// close drains in-flight restores and releases the execution database
func (r *runtime) close() {
	r.pool.Close()
	if err := r.execs.Close(); err != nil {
		log.Warn("closing execution store", "error", err)
	}
}
