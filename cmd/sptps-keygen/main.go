// Command sptps-keygen generates a long-term Ed25519 identity keypair for a
// sptps-peer endpoint and writes it to a pair of hex-encoded files: one
// holding the private key (for the local endpoint) and one holding just the
// public key (to hand to the peer that needs to verify this endpoint).
package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/floegence/sptps-go/internal/version"
	"github.com/floegence/sptps-go/sptps"
)

var (
	appVersion = "dev"
	commit     = "unknown"
	date       = "unknown"
)

type ready struct {
	Version        string `json:"version"`
	Commit         string `json:"commit"`
	Date           string `json:"date"`
	PrivateKeyFile string `json:"private_key_file"`
	PublicKeyFile  string `json:"public_key_file"`
	PublicKeyHex   string `json:"public_key_hex"`
}

type privateKeyFile struct {
	PrivateKeyHex string `json:"private_key_hex"`
	PublicKeyHex  string `json:"public_key_hex"`
}

type publicKeyFile struct {
	PublicKeyHex string `json:"public_key_hex"`
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout io.Writer, stderr io.Writer) int {
	showVersion := false

	outDir := envString("SPTPS_KEYGEN_OUT_DIR", ".")
	privFile := envString("SPTPS_KEYGEN_PRIVATE_KEY_FILE", "")
	pubFile := envString("SPTPS_KEYGEN_PUBLIC_KEY_FILE", "")
	var overwrite bool

	fs := flag.NewFlagSet("sptps-keygen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&showVersion, "version", false, "print version and exit")
	fs.StringVar(&outDir, "out-dir", outDir, "output directory for generated files (env: SPTPS_KEYGEN_OUT_DIR)")
	fs.StringVar(&privFile, "private-key-file", privFile, "output file for the private key (default: <out-dir>/sptps_key.json) (env: SPTPS_KEYGEN_PRIVATE_KEY_FILE)")
	fs.StringVar(&pubFile, "public-key-file", pubFile, "output file for the public key (default: <out-dir>/sptps_key.pub.json) (env: SPTPS_KEYGEN_PUBLIC_KEY_FILE)")
	fs.BoolVar(&overwrite, "overwrite", false, "overwrite existing files")
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

	outDir = strings.TrimSpace(outDir)
	if outDir == "" {
		outDir = "."
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if privFile == "" {
		privFile = filepath.Join(outDir, "sptps_key.json")
	} else if !filepath.IsAbs(privFile) {
		privFile = filepath.Join(outDir, privFile)
	}
	if pubFile == "" {
		pubFile = filepath.Join(outDir, "sptps_key.pub.json")
	} else if !filepath.IsAbs(pubFile) {
		pubFile = filepath.Join(outDir, pubFile)
	}

	if !overwrite {
		if fileExists(privFile) {
			fmt.Fprintf(stderr, "refusing to overwrite existing file: %s (use --overwrite)\n", privFile)
			return 2
		}
		if fileExists(pubFile) {
			fmt.Fprintf(stderr, "refusing to overwrite existing file: %s (use --overwrite)\n", pubFile)
			return 2
		}
	}

	priv, pub, err := sptps.GenerateEd25519Keypair()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	privJSON, err := json.MarshalIndent(privateKeyFile{
		PrivateKeyHex: hex.EncodeToString(priv),
		PublicKeyHex:  hex.EncodeToString(pub),
	}, "", "  ")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	pubJSON, err := json.MarshalIndent(publicKeyFile{PublicKeyHex: hex.EncodeToString(pub)}, "", "  ")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	if err := os.WriteFile(privFile, privJSON, 0o600); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if err := os.WriteFile(pubFile, pubJSON, 0o644); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	_ = json.NewEncoder(stdout).Encode(ready{
		Version:        appVersion,
		Commit:         commit,
		Date:           date,
		PrivateKeyFile: absOr(privFile),
		PublicKeyFile:  absOr(pubFile),
		PublicKeyHex:   hex.EncodeToString(pub),
	})
	return 0
}

func absOr(path string) string {
	if path == "" {
		return ""
	}
	a, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return a
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func envString(key string, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
