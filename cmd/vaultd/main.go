// Command vaultd runs the mutually-authenticated file-exchange service: the
// mTLS accept loop, the per-connection session state machine, the metadata
// and blob stores behind it, the directory watcher, and the optional admin
// HTTP surface.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/entropycollective/vaultd/pkg/adminapi"
	"github.com/entropycollective/vaultd/pkg/blobstore"
	"github.com/entropycollective/vaultd/pkg/catalog"
	"github.com/entropycollective/vaultd/pkg/common/config"
	"github.com/entropycollective/vaultd/pkg/common/logging"
	"github.com/entropycollective/vaultd/pkg/common/workers"
	"github.com/entropycollective/vaultd/pkg/listener"
	"github.com/entropycollective/vaultd/pkg/metadata"
	"github.com/entropycollective/vaultd/pkg/session"
	"github.com/entropycollective/vaultd/pkg/watcher"
)

func main() {
	configPath := flag.String("config", "", "path to a JSON config file (defaults apply if omitted)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "vaultd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.ConfigureFromSettings(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.File)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	// SIGPIPE ignored process-wide, matching the original daemon; Go's
	// runtime already keeps socket/pipe writes from raising it, this just
	// makes the intent explicit for any raw fd path a future change adds.
	signal.Ignore(syscall.SIGPIPE)

	aeadKey, err := cfg.AEADKey()
	if err != nil {
		return fmt.Errorf("resolve AEAD key: %w", err)
	}

	blobs, err := blobstore.New(cfg.StorageDir, 0)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metaStore, err := metadata.Connect(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Mongo.Collection)
	if err != nil {
		return fmt.Errorf("connect metadata store: %w", err)
	}
	defer metaStore.Close(context.Background())

	var admin *adminapi.Server
	if cfg.AdminAddr != "" {
		ready := func(ctx context.Context) error {
			_, err := metaStore.List(ctx)
			return err
		}
		admin = adminapi.New(cfg.AdminToken, ready, log)
		metaStore.SetAuditListener(func(name, typeOfChanges, status string, date int64) {
			admin.Broadcast(adminapi.AuditEvent{Name: name, TypeOfChanges: typeOfChanges, Status: status, DateMillis: date})
		})
	}

	var catalogIdx *catalog.Index
	if cfg.CatalogIndexEnabled {
		catalogIdx, err = catalog.New()
		if err != nil {
			return fmt.Errorf("build catalog index: %w", err)
		}
		if err := seedCatalog(ctx, metaStore, catalogIdx); err != nil {
			return fmt.Errorf("seed catalog index: %w", err)
		}
		defer catalogIdx.Close()
		if admin != nil {
			admin.SetCatalog(catalogIdx)
		}
	}

	serverCert, err := tls.LoadX509KeyPair(cfg.TLSCertFile, cfg.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("load server certificate: %w", err)
	}
	clientCAPool, err := loadCertPool(cfg.TLSClientCAFile)
	if err != nil {
		return fmt.Errorf("load client CA bundle: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{serverCert},
		ClientAuth:   tls.RequireAndVerifyClientCert,
		ClientCAs:    clientCAPool,
		MinVersion:   tls.VersionTLS12,
	}

	deps := session.Deps{
		AEADKey:  aeadKey,
		Blobs:    blobs,
		Metadata: metaStore,
		Logger:   log,
	}
	if catalogIdx != nil {
		deps.Catalog = catalogIdx
	}

	pool := workers.New(cfg.WorkerPoolSize)
	handle := func(ctx context.Context, conn *tls.Conn) {
		session.New(conn, deps).Run(ctx)
	}
	ln := listener.New(cfg.ListenAddr, tlsConfig, pool, handle, log)

	w := watcher.New(cfg.StorageDir, metaStore, log)
	go func() {
		if err := w.Run(ctx); err != nil {
			log.Error("watcher exited", map[string]interface{}{"error": err.Error()})
		}
	}()

	if admin != nil {
		adminSrv := &http.Server{Addr: cfg.AdminAddr, Handler: admin.Handler()}
		go func() {
			if err := adminSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("admin server exited", map[string]interface{}{"error": err.Error()})
			}
		}()
		go func() {
			<-ctx.Done()
			_ = adminSrv.Close()
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutdown signal received")
		cancel()
	}()

	log.Info("vaultd starting", map[string]interface{}{"listen_addr": cfg.ListenAddr})
	return ln.Serve(ctx)
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates parsed from %s", path)
	}
	return pool, nil
}

// seedCatalog populates a freshly built in-memory catalog index from the
// current metadata records, so restarts don't serve an empty search index
// until the next upload.
func seedCatalog(ctx context.Context, store *metadata.Store, idx *catalog.Index) error {
	objs, err := store.List(ctx)
	if err != nil {
		return err
	}
	for _, obj := range objs {
		if err := idx.Upsert(obj); err != nil {
			return err
		}
	}
	return nil
}
