package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	log "github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/artifact"
	"github.com/bitia-ru/aap-cluster-migrate/pkg/cluster"
	"github.com/bitia-ru/aap-cluster-migrate/pkg/config"
	"github.com/bitia-ru/aap-cluster-migrate/pkg/phase"
	"github.com/bitia-ru/aap-cluster-migrate/pkg/rundir"
	"github.com/bitia-ru/aap-cluster-migrate/pkg/storage"
	"github.com/bitia-ru/aap-cluster-migrate/pkg/teardown"
	"github.com/bitia-ru/aap-cluster-migrate/pkg/transfer"
	"github.com/bitia-ru/aap-cluster-migrate/pkg/types"
	"github.com/bitia-ru/aap-cluster-migrate/pkg/workload"
)

type options struct {
	mappingPath   string
	credsPath     string
	artifactStore string
	image         string
	verbose       bool
}

func main() {
	// rsync invokes this binary back as its remote shell.
	if len(os.Args) > 1 && os.Args[1] == "rsync-transport" {
		os.Exit(runTransport(os.Args[2:]))
	}

	var opts options
	flag.StringVarP(&opts.mappingPath, "mapping", "m", "", "Migration-mapping file (required, or first positional argument)")
	flag.StringVarP(&opts.credsPath, "credentials", "c", "", "Cluster credentials file")
	flag.StringVar(&opts.artifactStore, "artifact-store", "", "Optional S3-compatible store credentials for archive retention")
	flag.StringVar(&opts.image, "image", workload.DefaultImage, "Image for the ephemeral transfer workloads")
	flag.BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output")
	flag.Parse()

	if opts.mappingPath == "" && flag.NArg() > 0 {
		opts.mappingPath = flag.Arg(0)
	}
	if opts.mappingPath == "" {
		fmt.Fprintln(os.Stderr, "Error: a migration-mapping file is required")
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(realMain(opts))
}

func realMain(opts options) int {
	req, err := config.LoadMapping(opts.mappingPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		flag.Usage()
		return 1
	}

	runDir, err := rundir.New(".")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer runDir.Close()

	logger, err := runDir.NewLogger(opts.verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	logger.Infof("Run artifacts in %s", runDir.Path)

	creds, err := loadCredentials(opts.credsPath)
	if err != nil {
		logger.Errorf("Configuration error: %v", err)
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, req, creds, opts, runDir, logger); err != nil {
		logger.Errorf("Migration failed: %v", err)
		return 1
	}

	logger.Info("Migration completed successfully")
	return 0
}

// loadCredentials reads the credentials file when given and falls back to
// interactive prompting for anything still missing.
func loadCredentials(path string) (*config.Credentials, error) {
	creds := &config.Credentials{}
	if path != "" {
		loaded, err := config.LoadCredentials(path)
		if err != nil {
			return nil, err
		}
		creds = loaded
	}

	var err error
	if creds.Source.Endpoint == "" || !creds.Source.HasAuth() {
		creds.Source, err = config.PromptCredentials(os.Stdin, os.Stderr, "source", creds.Source)
		if err != nil {
			return nil, err
		}
	}
	if creds.Destination.Endpoint == "" || !creds.Destination.HasAuth() {
		creds.Destination, err = config.PromptCredentials(os.Stdin, os.Stderr, "destination", creds.Destination)
		if err != nil {
			return nil, err
		}
	}
	return creds, nil
}

// run drives the phases in their strict causal order. The teardown
// coordinator is deferred so ephemeral cleanup happens on every exit path,
// including cancellation; volumes are only removed after full success.
func run(ctx context.Context, req *types.MigrationRequest, creds *config.Credentials, opts options, runDir *rundir.Dir, logger *log.Logger) error {
	source, err := cluster.Open("source", creds.Source, logger)
	if err != nil {
		return err
	}
	dest, err := cluster.Open("destination", creds.Destination, logger)
	if err != nil {
		return err
	}

	if err := source.WriteKubeconfig(runDir.KubeconfigPath("source")); err != nil {
		return err
	}
	if err := dest.WriteKubeconfig(runDir.KubeconfigPath("destination")); err != nil {
		return err
	}

	td := teardown.New(logger)
	defer td.Run()

	// Phase 1: snapshot on the source cluster.
	backup := phase.NewBackup(source.Dynamic, req.SourceNamespace, req.Identity, logger)
	result, err := backup.Run(ctx)
	if err != nil {
		return err
	}

	sourceClaim := req.SourceClaim
	if sourceClaim == "" {
		sourceClaim = result.Claim
	}
	destClaim := req.DestClaim
	if destClaim == "" {
		destClaim = sourceClaim
	}
	srcDir := result.Directory
	if !path.IsAbs(srcDir) {
		srcDir = path.Join(req.SourcePath, srcDir)
	}

	// Phase 2: provision a compatible volume on the destination cluster.
	srcSpec, err := storage.ReadSource(ctx, source.Kube, req.SourceNamespace, sourceClaim)
	if err != nil {
		return err
	}
	resolver := storage.New(dest.Kube, logger)
	destSpec, err := resolver.Resolve(ctx, srcSpec)
	if err != nil {
		return err
	}
	if err := resolver.EnsureClaim(ctx, req.DestNamespace, destClaim, destSpec); err != nil {
		return err
	}

	// Phase 3: transfer through two ephemeral workloads.
	srcManager := workload.New(source.Kube, logger)
	srcPod, err := srcManager.Launch(ctx, req.SourceNamespace, req.Identity, sourceClaim, opts.image)
	if err != nil {
		return err
	}
	td.AddWorkload(srcManager, srcPod)
	if err := srcManager.AwaitReady(ctx, srcPod); err != nil {
		return err
	}

	destManager := workload.New(dest.Kube, logger)
	destPod, err := destManager.Launch(ctx, req.DestNamespace, req.Identity, destClaim, opts.image)
	if err != nil {
		return err
	}
	td.AddWorkload(destManager, destPod)
	if err := destManager.AwaitReady(ctx, destPod); err != nil {
		return err
	}

	srcEndpoint := transfer.Endpoint{
		Exec:       transfer.NewSPDYExecutor(source.Kube, source.Config),
		Pod:        srcPod,
		Path:       srcDir,
		Kubeconfig: runDir.KubeconfigPath("source"),
	}
	destEndpoint := transfer.Endpoint{
		Exec:       transfer.NewSPDYExecutor(dest.Kube, dest.Config),
		Pod:        destPod,
		Path:       req.DestPath,
		Kubeconfig: runDir.KubeconfigPath("destination"),
	}

	strategy := selectStrategy(ctx, req.Method, opts, runDir, srcEndpoint, destEndpoint, logger)
	logger.Infof("Transferring %s with %s", srcDir, strategy.Name())
	if err := strategy.Move(ctx, srcEndpoint, destEndpoint); err != nil {
		return err
	}
	transfer.VerifySizes(ctx, srcEndpoint, destEndpoint, logger)

	// Phase 4: restore on the destination cluster.
	backupDir := path.Join(req.DestPath, path.Base(srcDir))
	restore := phase.NewRestore(dest.Dynamic, req.DestNamespace, req.Identity, destClaim, backupDir, logger)
	if err := restore.Run(ctx); err != nil {
		return err
	}

	// Terminal state of a successful run: both volumes are removed.
	td.AddVolume(source.Kube, req.SourceNamespace, sourceClaim)
	td.AddVolume(dest.Kube, req.DestNamespace, destClaim)
	td.MarkSuccess()
	return nil
}

func selectStrategy(ctx context.Context, method types.Method, opts options, runDir *rundir.Dir, src, dst transfer.Endpoint, logger *log.Logger) transfer.Strategy {
	var uploader transfer.Uploader
	if opts.artifactStore != "" {
		creds, err := artifact.LoadCredentials(opts.artifactStore)
		if err != nil {
			logger.Warnf("Artifact store disabled: %v", err)
		} else if store, err := artifact.New(creds, logger); err != nil {
			logger.Warnf("Artifact store disabled: %v", err)
		} else {
			uploader = store
		}
	}

	archive := transfer.NewArchive(runDir.Staging, uploader, logger)

	self, err := os.Executable()
	if err != nil {
		logger.Debugf("Could not locate own binary, rsync disabled: %v", err)
		self = ""
	}
	rsync := transfer.NewRsync(runDir.Staging, self, logger)

	return transfer.Select(ctx, method, archive, rsync, src, dst, logger)
}

// runTransport is the rsync remote-shell mode. Arguments after the flags are
// the pod name and the remote rsync server command.
func runTransport(args []string) int {
	fs := flag.NewFlagSet("rsync-transport", flag.ContinueOnError)
	fs.SetInterspersed(false)
	kubeconfig := fs.String("kubeconfig", "", "Cluster credential context")
	namespace := fs.String("namespace", "", "Workload namespace")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "rsync-transport: %v\n", err)
		return 1
	}

	if err := transfer.RunTransport(context.Background(), *kubeconfig, *namespace, fs.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "rsync-transport: %v\n", err)
		return 1
	}
	return 0
}
