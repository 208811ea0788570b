// Command sptps-peer is a minimal two-role demonstration of the sptps stack:
// one side listens for an inbound websocket and accepts a secured,
// multiplexed connection; the other dials out and opens a stream on it.
// Each role pipes that single logical stream to its own stdin/stdout, so
// two instances of this binary can be used as an
// ad hoc encrypted pipe between two terminals.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/floegence/sptps-go/internal/version"
	"github.com/floegence/sptps-go/muxconn"
	"github.com/floegence/sptps-go/observability"
	"github.com/floegence/sptps-go/observability/prom"
	"github.com/floegence/sptps-go/sptps"
	"github.com/floegence/sptps-go/sptpsconn"
	"github.com/floegence/sptps-go/transport"
)

var (
	appVersion = "dev"
	commit     = "unknown"
	date       = "unknown"
)

type ready struct {
	Version    string `json:"version"`
	Commit     string `json:"commit"`
	Date       string `json:"date"`
	Role       string `json:"role"`
	Listen     string `json:"listen,omitempty"`
	WSPath     string `json:"ws_path,omitempty"`
	DialURL    string `json:"dial_url,omitempty"`
	MetricsURL string `json:"metrics_url,omitempty"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout io.Writer, stderr io.Writer) int {
	logger := log.New(stderr, "", log.LstdFlags)

	showVersion := false
	listen := envString("SPTPS_PEER_LISTEN", "")
	dial := envString("SPTPS_PEER_DIAL", "")
	wsPath := envString("SPTPS_PEER_WS_PATH", "/sptps")
	label := envString("SPTPS_PEER_LABEL", "sptps-peer")
	myKeyFile := envString("SPTPS_PEER_MY_KEY_FILE", "")
	hisKeyFile := envString("SPTPS_PEER_HIS_KEY_FILE", "")
	metricsListen := envString("SPTPS_PEER_METRICS_LISTEN", "")
	preferredSuite := envString("SPTPS_PEER_PREFERRED_SUITE", "chacha20poly1305")

	fs := flag.NewFlagSet("sptps-peer", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&listen, "listen", listen, "listen address; run as the accepting side (env: SPTPS_PEER_LISTEN)")
	fs.StringVar(&dial, "dial", dial, "ws(s):// URL to dial; run as the dialing side (env: SPTPS_PEER_DIAL)")
	fs.StringVar(&wsPath, "ws-path", wsPath, "websocket path for -listen (env: SPTPS_PEER_WS_PATH)")
	fs.StringVar(&label, "label", label, "domain-separation label; must match on both sides (env: SPTPS_PEER_LABEL)")
	fs.StringVar(&myKeyFile, "my-key-file", myKeyFile, "path to this endpoint's private key file, as written by sptps-keygen (required) (env: SPTPS_PEER_MY_KEY_FILE)")
	fs.StringVar(&hisKeyFile, "his-key-file", hisKeyFile, "path to the peer's public key file, as written by sptps-keygen (required) (env: SPTPS_PEER_HIS_KEY_FILE)")
	fs.StringVar(&metricsListen, "metrics-listen", metricsListen, "listen address for a /metrics endpoint (empty disables) (env: SPTPS_PEER_METRICS_LISTEN)")
	fs.StringVar(&preferredSuite, "preferred-suite", preferredSuite, "preferred cipher suite: chacha20poly1305 or aes256gcm (env: SPTPS_PEER_PREFERRED_SUITE)")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, version.String(appVersion, commit, date))
		return 0
	}

	usageErr := func(msg string) int {
		if msg != "" {
			fmt.Fprintln(stderr, msg)
		}
		fs.Usage()
		return 2
	}

	if (listen == "") == (dial == "") {
		return usageErr("exactly one of --listen or --dial is required")
	}
	if myKeyFile == "" || hisKeyFile == "" {
		return usageErr("missing --my-key-file or --his-key-file")
	}

	myKey, err := loadPrivateKey(myKeyFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	hisKey, err := loadPublicKey(hisKeyFile)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	suite, err := parsePreferredSuite(preferredSuite)
	if err != nil {
		return usageErr(err.Error())
	}

	reg := prom.NewRegistry()
	sessionObserver := prom.NewSessionObserver(reg)

	var metricsURL string
	if metricsListen != "" {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", prom.Handler(reg))
		metricsSrv := &http.Server{Addr: metricsListen, Handler: metricsMux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Printf("metrics server: %v", err)
			}
		}()
		defer metricsSrv.Close()
		metricsURL = "http://" + metricsListen + "/metrics"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if listen != "" {
		return runListen(ctx, listen, wsPath, myKey, hisKey, label, suite, sessionObserver, stdin, stdout, stderr, logger, metricsURL)
	}
	return runDial(ctx, dial, myKey, hisKey, label, suite, sessionObserver, stdin, stdout, stderr, logger, metricsURL)
}

func runListen(
	ctx context.Context,
	listen, wsPath string,
	myKey sptps.PrivateKey,
	hisKey sptps.PublicKey,
	label string,
	suite sptps.SuiteID,
	observer observability.SessionObserver,
	stdin io.Reader, stdout io.Writer, stderr io.Writer,
	logger *log.Logger,
	metricsURL string,
) int {
	sessionCh := make(chan *muxconn.Session, 1)

	mux := http.NewServeMux()
	mux.HandleFunc(wsPath, func(w http.ResponseWriter, r *http.Request) {
		t, err := transport.Upgrade(w, r, transport.UpgraderOptions{
			CheckOrigin: func(*http.Request) bool { return true },
		})
		if err != nil {
			logger.Printf("upgrade failed: %v", err)
			return
		}
		conn, err := sptpsconn.Accept(t, sptpsconn.ServerOptions{
			MyKey:          myKey,
			HisKey:         hisKey,
			Label:          label,
			PreferredSuite: suite,
			Observer:       observer,
		})
		if err != nil {
			logger.Printf("handshake failed: %v", err)
			_ = t.Close()
			return
		}
		sess, err := muxconn.Server(conn, nil)
		if err != nil {
			logger.Printf("mux setup failed: %v", err)
			_ = conn.Close()
			return
		}
		select {
		case sessionCh <- sess:
		default:
			_ = sess.Close()
		}
	})

	srv := &http.Server{Addr: listen, Handler: mux}
	ln, err := listenTCP(listen)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("http server: %v", err)
		}
	}()

	_ = json.NewEncoder(stdout).Encode(ready{
		Version:    appVersion,
		Commit:     commit,
		Date:       date,
		Role:       "listen",
		Listen:     ln.Addr().String(),
		WSPath:     wsPath,
		MetricsURL: metricsURL,
	})

	select {
	case <-ctx.Done():
		_ = srv.Close()
		return 0
	case sess := <-sessionCh:
		defer sess.Close()
		stream, err := sess.AcceptStream()
		if err != nil {
			logger.Printf("accept stream failed: %v", err)
			return 1
		}
		defer stream.Close()
		pipeStream(ctx, stream, stdin, stdout, logger)
		_ = srv.Close()
		return 0
	}
}

func runDial(
	ctx context.Context,
	dialURL string,
	myKey sptps.PrivateKey,
	hisKey sptps.PublicKey,
	label string,
	suite sptps.SuiteID,
	observer observability.SessionObserver,
	stdin io.Reader, stdout io.Writer, stderr io.Writer,
	logger *log.Logger,
	metricsURL string,
) int {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	t, _, err := transport.Dial(dialCtx, dialURL, transport.DialOptions{})
	cancel()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	conn, err := sptpsconn.Dial(t, sptpsconn.ClientOptions{
		MyKey:          myKey,
		HisKey:         hisKey,
		Label:          label,
		PreferredSuite: suite,
		Observer:       observer,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer conn.Close()

	sess, err := muxconn.Client(conn, nil)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer sess.Close()

	stream, err := sess.OpenStream()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer stream.Close()

	_ = json.NewEncoder(stdout).Encode(ready{
		Version:    appVersion,
		Commit:     commit,
		Date:       date,
		Role:       "dial",
		DialURL:    dialURL,
		MetricsURL: metricsURL,
	})

	pipeStream(ctx, stream, stdin, stdout, logger)
	return 0
}

// pipeStream copies stdin to the stream and the stream to stdout
// concurrently, returning once either direction hits EOF or ctx is canceled.
func pipeStream(ctx context.Context, stream io.ReadWriteCloser, stdin io.Reader, stdout io.Writer, logger *log.Logger) {
	done := make(chan struct{}, 2)
	go func() {
		_, err := io.Copy(stdout, stream)
		if err != nil && !errors.Is(err, io.EOF) {
			logger.Printf("read from peer: %v", err)
		}
		done <- struct{}{}
	}()
	go func() {
		_, err := io.Copy(stream, stdin)
		if err != nil && !errors.Is(err, io.EOF) {
			logger.Printf("read from stdin: %v", err)
		}
		done <- struct{}{}
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}
	_ = stream.Close()
}

func parsePreferredSuite(name string) (sptps.SuiteID, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "chacha20poly1305", "chacha20-poly1305":
		return sptps.SuiteChaCha20Poly1305, nil
	case "aes256gcm", "aes-256-gcm":
		return sptps.SuiteAES256GCM, nil
	default:
		return 0, fmt.Errorf("unknown --preferred-suite %q", name)
	}
}

type privateKeyFile struct {
	PrivateKeyHex string `json:"private_key_hex"`
}

type publicKeyFile struct {
	PublicKeyHex string `json:"public_key_hex"`
}

func loadPrivateKey(path string) (sptps.PrivateKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f privateKeyFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(f.PrivateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("decoding private_key_hex in %s: %w", path, err)
	}
	return sptps.Ed25519PrivateKey(raw), nil
}

func loadPublicKey(path string) (sptps.PublicKey, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var f publicKeyFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	raw, err := hex.DecodeString(strings.TrimSpace(f.PublicKeyHex))
	if err != nil {
		return nil, fmt.Errorf("decoding public_key_hex in %s: %w", path, err)
	}
	return sptps.Ed25519PublicKey(raw), nil
}

func envString(key string, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func listenTCP(addr string) (net.Listener, error) {
	return net.Listen("tcp", addr)
}
