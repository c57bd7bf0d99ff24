package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/3cpo-dev/bootnode/internal/bootstrap"
	prov "github.com/3cpo-dev/bootnode/internal/providers"
	gssh "github.com/3cpo-dev/bootnode/internal/ssh"
	"github.com/3cpo-dev/bootnode/internal/telemetry"
	"github.com/3cpo-dev/bootnode/pkg/api"
)

// Bootstrapper applies the configuration playbook to a reachable node.
type Bootstrapper interface {
	Run(ctx context.Context, t bootstrap.Target) (string, error)
}

// RunRecorder persists run progress.
type RunRecorder interface {
	SaveRun(ctx context.Context, r Run) error
}

type Options struct {
	// Provider names the provider in the ledger and in metrics.
	Provider string
	KeysDir  string
	Size     string
	TagKey   string
	// UserData is passed to the instance as its cloud-init document.
	UserData   string
	Poll       PollOptions
	Settle     SettleOptions
	KnownHosts string

	Prober       HostKeyProber
	Bootstrapper Bootstrapper
	Recorder     RunRecorder
	Metrics      *telemetry.Collector
	Sleep        SleepFunc
}

// Result describes a run, complete or not.
type Result struct {
	Request    NodeRequest
	Stage      api.Stage
	InstanceID string
	Address    string
	KeyPath    string
	// KeyWritten is false when the key pair or its file could not be created.
	KeyWritten      bool
	PollQueries     int
	BootstrapOutput string
	Diagnostics     []Diagnostic
}

// Orchestrator provisions one node through a provider session. It is not
// safe for concurrent runs.
type Orchestrator struct {
	compute prov.Compute
	opts    Options
	sleep   SleepFunc

	createdAt  time.Time
	stageStart time.Time
}

// NewOrchestrator binds a connected provider session. Zero options take the
// documented defaults.
func NewOrchestrator(c prov.Compute, opts Options) *Orchestrator {
	if opts.KeysDir == "" {
		opts.KeysDir = "keys"
	}
	if opts.TagKey == "" {
		opts.TagKey = "Name"
	}
	poll := DefaultPollOptions()
	if opts.Poll.Backoff.Initial <= 0 {
		opts.Poll.Backoff = poll.Backoff
	}
	if opts.Poll.Timeout <= 0 {
		opts.Poll.Timeout = poll.Timeout
	}
	def := DefaultSettleOptions()
	if opts.Settle.Mode == "" {
		opts.Settle.Mode = def.Mode
	}
	if opts.Settle.Delay <= 0 {
		opts.Settle.Delay = def.Delay
	}
	if opts.Settle.ProbeTimeout <= 0 {
		opts.Settle.ProbeTimeout = def.ProbeTimeout
	}
	if opts.Settle.ProbeInterval <= 0 {
		opts.Settle.ProbeInterval = def.ProbeInterval
	}
	if opts.Settle.Port <= 0 {
		opts.Settle.Port = def.Port
	}
	if opts.Prober == nil {
		opts.Prober = gssh.Prober{Port: opts.Settle.Port, Timeout: 10 * time.Second}
	}
	if opts.Bootstrapper == nil {
		opts.Bootstrapper = &bootstrap.Runner{}
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = prov.Sleep
	}
	return &Orchestrator{compute: c, opts: opts, sleep: sleep}
}

// Run provisions the node described by req. Key pair and tag failures are
// recorded as diagnostics; launch, address, settle cancellation and bootstrap
// failures end the run with a *StepError. The returned Result is never nil.
func (o *Orchestrator) Run(ctx context.Context, req NodeRequest) (*Result, error) {
	o.createdAt = time.Now().UTC()
	res := &Result{Request: req, KeyPath: gssh.KeyPath(o.opts.KeysDir, req.Name)}
	o.enter(ctx, res, api.StageRequesting)

	if id, err := o.compute.Identity(ctx); err != nil {
		log.Warn().Err(err).Msg("could not resolve provider credentials identity")
	} else {
		log.Info().Str("provider", o.opts.Provider).Str("access_key", id).Msg("using credentials")
	}

	o.createKey(ctx, res)

	o.enter(ctx, res, api.StageLaunching)
	instanceID, err := o.compute.LaunchInstance(ctx, prov.LaunchRequest{
		Name:     req.Name,
		Image:    req.Image,
		Size:     o.opts.Size,
		KeyName:  req.Name,
		UserData: o.opts.UserData,
	})
	o.opts.Metrics.ProviderCall(o.opts.Provider, "launch_instance", err)
	if err != nil {
		return o.fail(ctx, res, fmt.Errorf("launch instance: %w", err))
	}
	res.InstanceID = instanceID
	log.Info().Str("node", req.Name).Str("instance", instanceID).Msg("instance launched")

	tagDone := make(chan error, 1)
	go func() {
		tagDone <- o.compute.TagInstance(ctx, instanceID, o.opts.TagKey, req.Name)
	}()

	o.enter(ctx, res, api.StageAwaitingAddress)
	addr, queries, pollErr := WaitForAddress(ctx, o.compute, instanceID, o.opts.Poll, o.sleep)
	res.PollQueries = queries
	o.opts.Metrics.PollQueries(o.opts.Provider, queries)

	tagErr := <-tagDone
	o.opts.Metrics.ProviderCall(o.opts.Provider, "tag_instance", tagErr)
	if tagErr != nil {
		o.diagnose(res, api.StageLaunching, fmt.Errorf("tag %s=%s: %w", o.opts.TagKey, req.Name, tagErr))
	}
	if pollErr != nil {
		return o.fail(ctx, res, pollErr)
	}
	res.Address = addr
	log.Info().Str("node", req.Name).Str("address", addr).Int("queries", queries).Msg("public address assigned")

	o.enter(ctx, res, api.StageSettling)
	if err := o.settle(ctx, res); err != nil {
		return o.fail(ctx, res, fmt.Errorf("settle: %w", err))
	}

	o.enter(ctx, res, api.StageBootstrapping)
	out, err := o.opts.Bootstrapper.Run(ctx, bootstrap.Target{
		Address:  addr,
		KeyPath:  res.KeyPath,
		NodeName: req.Name,
	})
	res.BootstrapOutput = out
	if err != nil {
		return o.fail(ctx, res, err)
	}

	o.enter(ctx, res, api.StageDone)
	o.opts.Metrics.Run(o.opts.Provider, string(api.RunSucceeded))
	o.record(ctx, res, api.RunSucceeded)
	return res, nil
}

// createKey requests the key pair and writes its private half to disk.
func (o *Orchestrator) createKey(ctx context.Context, res *Result) {
	name := res.Request.Name
	km, err := o.compute.CreateKeyPair(ctx, name)
	o.opts.Metrics.ProviderCall(o.opts.Provider, "create_key_pair", err)
	if err != nil {
		o.diagnose(res, api.StageRequesting, fmt.Errorf("create key pair %s: %w", name, err))
		return
	}
	path, err := gssh.WriteKeyFile(o.opts.KeysDir, name, km.PrivateKey)
	if err != nil {
		o.diagnose(res, api.StageRequesting, fmt.Errorf("persist key %s: %w", name, err))
		return
	}
	res.KeyWritten = true
	log.Info().Str("node", name).Str("path", path).Msg("private key written")
}

func (o *Orchestrator) enter(ctx context.Context, res *Result, stage api.Stage) {
	now := time.Now()
	if res.Stage != "" {
		o.opts.Metrics.StageDuration(string(res.Stage), now.Sub(o.stageStart))
	}
	o.stageStart = now
	res.Stage = stage
	log.Debug().Str("node", res.Request.Name).Str("stage", string(stage)).Msg("stage")
	if stage != api.StageDone {
		o.record(ctx, res, api.RunRunning)
	}
}

func (o *Orchestrator) diagnose(res *Result, stage api.Stage, err error) {
	log.Warn().Err(err).Str("node", res.Request.Name).Str("stage", string(stage)).Msg("continuing after failure")
	res.Diagnostics = append(res.Diagnostics, Diagnostic{Stage: stage, Err: err})
	o.opts.Metrics.Diagnostic(string(stage))
}

func (o *Orchestrator) fail(ctx context.Context, res *Result, err error) (*Result, error) {
	log.Error().Err(err).Str("node", res.Request.Name).Str("stage", string(res.Stage)).Msg("provisioning failed")
	o.opts.Metrics.StageDuration(string(res.Stage), time.Since(o.stageStart))
	o.opts.Metrics.Run(o.opts.Provider, string(api.RunFailed))
	o.record(context.WithoutCancel(ctx), res, api.RunFailed)
	return res, &StepError{Stage: res.Stage, Err: err}
}

func (o *Orchestrator) record(ctx context.Context, res *Result, status api.RunStatus) {
	if o.opts.Recorder == nil {
		return
	}
	diags := make([]string, 0, len(res.Diagnostics))
	for _, d := range res.Diagnostics {
		diags = append(diags, d.String())
	}
	keyPath := ""
	if res.KeyWritten {
		keyPath = res.KeyPath
	}
	err := o.opts.Recorder.SaveRun(ctx, Run{
		NodeName:    res.Request.Name,
		Provider:    o.opts.Provider,
		Region:      res.Request.Region,
		Image:       res.Request.Image,
		InstanceID:  res.InstanceID,
		Address:     res.Address,
		KeyPath:     keyPath,
		Stage:       res.Stage,
		Status:      status,
		Diagnostics: diags,
		CreatedAt:   o.createdAt,
	})
	if err != nil {
		log.Warn().Err(err).Str("node", res.Request.Name).Msg("could not record run")
	}
}
