// Package cluster opens authenticated, independently verified sessions
// against the two cluster API servers. Each session is isolated: nothing is
// shared between the source and destination handles.
package cluster

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/client-go/dynamic"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	clientcmd "k8s.io/client-go/tools/clientcmd"
	clientcmdapi "k8s.io/client-go/tools/clientcmd/api"

	"github.com/bitia-ru/aap-cluster-migrate/pkg/types"
)

// AuthError reports that a session could not be established or failed its
// post-login liveness check.
type AuthError struct {
	Cluster string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticating to %s cluster: %v", e.Cluster, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Session is an authenticated handle to one cluster.
type Session struct {
	Name    string
	Kube    kubernetes.Interface
	Dynamic dynamic.Interface
	Config  *rest.Config

	logger log.FieldLogger
}

// New assembles a session from pre-built clients. Used by tests and by Open.
func New(name string, kube kubernetes.Interface, dyn dynamic.Interface, cfg *rest.Config, logger log.FieldLogger) *Session {
	return &Session{
		Name:    name,
		Kube:    kube,
		Dynamic: dyn,
		Config:  cfg,
		logger:  logger.WithField("cluster", name),
	}
}

// Open authenticates against one cluster and verifies the session is usable.
// A session that accepted credentials but cannot list API resources is
// rejected: both the identity check and capability discovery must succeed.
func Open(name string, creds types.ClusterCredentials, logger log.FieldLogger) (*Session, error) {
	if creds.Endpoint == "" {
		return nil, &AuthError{Cluster: name, Err: errors.New("no API endpoint")}
	}
	if !creds.HasAuth() {
		return nil, &AuthError{Cluster: name, Err: errors.New("no token or username/password")}
	}

	cfg := restConfig(creds)

	kube, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, &AuthError{Cluster: name, Err: err}
	}
	dyn, err := dynamic.NewForConfig(cfg)
	if err != nil {
		return nil, &AuthError{Cluster: name, Err: err}
	}

	s := New(name, kube, dyn, cfg, logger)
	if err := s.verify(); err != nil {
		return nil, &AuthError{Cluster: name, Err: err}
	}

	s.logger.WithField("endpoint", creds.Endpoint).Info("Cluster session established")
	return s, nil
}

func restConfig(creds types.ClusterCredentials) *rest.Config {
	cfg := &rest.Config{
		Host: creds.Endpoint,
		TLSClientConfig: rest.TLSClientConfig{
			Insecure: creds.Insecure,
		},
	}
	if creds.Token != "" {
		cfg.BearerToken = creds.Token
	} else {
		cfg.Username = creds.Username
		cfg.Password = creds.Password
	}
	return cfg
}

// verify issues a read-only identity check and a capability-discovery call.
func (s *Session) verify() error {
	version, err := s.Kube.Discovery().ServerVersion()
	if err != nil {
		return errors.Wrap(err, "server version check")
	}
	s.logger.Debugf("Server version %s", version.GitVersion)

	groups, err := s.Kube.Discovery().ServerGroups()
	if err != nil {
		return errors.Wrap(err, "API discovery check")
	}
	s.logger.Debugf("Discovered %d API groups", len(groups.Groups))

	return nil
}

// WriteKubeconfig persists an isolated credential context for this session,
// consumed by external transfer tooling (the rsync exec transport).
func (s *Session) WriteKubeconfig(path string) error {
	kc := clientcmdapi.NewConfig()
	kc.Clusters[s.Name] = &clientcmdapi.Cluster{
		Server:                s.Config.Host,
		InsecureSkipTLSVerify: s.Config.Insecure,
	}
	kc.AuthInfos[s.Name] = &clientcmdapi.AuthInfo{
		Token:    s.Config.BearerToken,
		Username: s.Config.Username,
		Password: s.Config.Password,
	}
	kc.Contexts[s.Name] = &clientcmdapi.Context{
		Cluster:  s.Name,
		AuthInfo: s.Name,
	}
	kc.CurrentContext = s.Name

	if err := clientcmd.WriteToFile(*kc, path); err != nil {
		return errors.Wrapf(err, "writing %s kubeconfig", s.Name)
	}
	return nil
}
