// Command vault is a CLI client for the file vault HTTP API.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "file-vault")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "file-vault")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenExpiry reads exp from a JWT without verifying it; the server does that.
// Tokens without exp are kept for a day.
func tokenExpiry(tok string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(tok, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Now().Add(24 * time.Hour), nil
	}
	return claims.ExpiresAt.Time, nil
}

// resolveToken prefers an explicit -token, then a saved one. A missing saved
// token is not an error: the server may run without bearer identities.
func resolveToken(flagTok string) string {
	if flagTok != "" {
		return flagTok
	}
	tok, err := loadToken()
	if err != nil {
		return ""
	}
	return tok
}

// ---- http client ----

func loadTLS(caPath string, insecure bool) (*tls.Config, error) {
	if insecure {
		return &tls.Config{InsecureSkipVerify: true}, nil //nolint:gosec // dev only
	}
	if caPath == "" {
		return nil, nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return &tls.Config{RootCAs: pool}, nil
}

func httpClient(caPath string, insecure bool) (*http.Client, error) {
	tc, err := loadTLS(caPath, insecure)
	if err != nil {
		return nil, err
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = tc
	return &http.Client{Transport: tr}, nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// outputPath picks where a download is written: -o, else the server filename
// reduced to its base name, else file-<id>.
func outputPath(flagOut, serverName string, id int64) string {
	if flagOut != "" {
		return flagOut
	}
	if base := filepath.Base(serverName); serverName != "" && base != "." && base != "/" && base != ".." {
		return base
	}
	return fmt.Sprintf("file-%d", id)
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func usage() {
	fmt.Fprintf(os.Stderr, `vault CLI
Usage:
  vault [-addr URL] [-token JWT] [-cacert file | -insecure] <cmd> [args]

Commands:
  version
  login      -token <jwt>                          (saves token)
  upload     -file <path|-> [-name N] [-type MIME] [-user U]
  list       [-user U]
  download   -id <n> -key <key> [-user U] [-o path|-]
  rm         -id <n> -key <key> [-user U]
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands against the vault HTTP API.
func main() {
	// global flags
	addr := flag.String("addr", "http://localhost:8080", "server base URL")
	token := flag.String("token", "", "bearer token (default: saved token)")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	insecure := flag.Bool("insecure", false, "skip cert verify (dev)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd := flag.Arg(0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	hc, err := httpClient(*caPath, *insecure)
	if err != nil {
		fail(err)
	}
	cl := newClient(*addr, resolveToken(*token), hc)

	switch cmd {

	case "version":
		fmt.Printf("vault %s (%s)\n", version, buildDate)

	case "login":
		fs := flag.NewFlagSet("login", flag.ExitOnError)
		tok := fs.String("token", "", "bearer token issued for you")
		_ = fs.Parse(flag.Args()[1:])
		if *tok == "" {
			fmt.Fprintln(os.Stderr, "need -token")
			os.Exit(1)
		}
		exp, err := tokenExpiry(*tok)
		if err != nil {
			fail(err)
		}
		if err := saveToken(*tok, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "upload":
		fs := flag.NewFlagSet("upload", flag.ExitOnError)
		file := fs.String("file", "", "file to upload ('-'=stdin)")
		name := fs.String("name", "", "file name sent to the server (default: base name of -file)")
		ctype := fs.String("type", "", "content type (default: by extension)")
		user := fs.String("user", "", "owner id")
		_ = fs.Parse(flag.Args()[1:])
		if *file == "" {
			fmt.Fprintln(os.Stderr, "need -file")
			os.Exit(1)
		}

		data, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		if *name == "" && *file != "-" {
			*name = filepath.Base(*file)
		}
		if *ctype == "" {
			*ctype = mime.TypeByExtension(filepath.Ext(*name))
		}

		out, err := cl.Upload(ctx, *name, *ctype, data, *user)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "list":
		fs := flag.NewFlagSet("list", flag.ExitOnError)
		user := fs.String("user", "", "only files of this owner")
		_ = fs.Parse(flag.Args()[1:])

		out, err := cl.List(ctx, *user)
		if err != nil {
			fail(err)
		}
		printJSON(out)

	case "download":
		fs := flag.NewFlagSet("download", flag.ExitOnError)
		id := fs.Int64("id", 0, "file id")
		key := fs.String("key", "", "download key")
		user := fs.String("user", "", "owner id")
		out := fs.String("o", "", "output path ('-'=stdout)")
		_ = fs.Parse(flag.Args()[1:])
		if *id <= 0 || *key == "" {
			fmt.Fprintln(os.Stderr, "need -id and -key")
			os.Exit(1)
		}

		data, name, err := cl.Download(ctx, *id, *key, *user)
		if err != nil {
			fail(err)
		}
		path := outputPath(*out, name, *id)
		if err := writeOutput(path, data); err != nil {
			fail(err)
		}
		if path != "-" {
			fmt.Fprintf(os.Stderr, "wrote %s (%dB)\n", path, len(data))
		}

	case "rm":
		fs := flag.NewFlagSet("rm", flag.ExitOnError)
		id := fs.Int64("id", 0, "file id")
		key := fs.String("key", "", "download key")
		user := fs.String("user", "", "owner id")
		_ = fs.Parse(flag.Args()[1:])
		if *id <= 0 || *key == "" {
			fmt.Fprintln(os.Stderr, "need -id and -key")
			os.Exit(1)
		}

		if err := cl.Remove(ctx, *id, *key, *user); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	default:
		usage()
	}
}

// ---- helpers ----

func fail(err error) {
	switch {
	case isStatus(err, http.StatusForbidden):
		fmt.Fprintln(os.Stderr, "access denied: wrong key or not the owner")
	case isStatus(err, http.StatusUnauthorized):
		fmt.Fprintln(os.Stderr, "token rejected (login again)")
	case isStatus(err, http.StatusNotFound):
		fmt.Fprintln(os.Stderr, "file not found")
	default:
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(1)
}
